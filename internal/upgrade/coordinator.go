package upgrade

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"

	"github.com/pilotdeck/pilotdeck/internal/config"
	"github.com/pilotdeck/pilotdeck/internal/metrics"
	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/pkg/log"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

// Target identifies the container to upgrade. The decision of which
// container and when comes from the caller; the coordinator only executes.
type Target struct {
	InstanceURL  string
	EndpointID   int
	ContainerID  string
	Name         string
	ProxyFronted bool
}

// Result is the outcome of a successful upgrade. Warnings cover dependent
// containers only and never affect the primary verdict.
type Result struct {
	UpgradeID      string
	NewContainerID string
	Warnings       []DependentWarning
}

// ProxyFrontedToggler is implemented by API clients that support switching
// to an IP-addressed path when the instance's proxy goes down mid-upgrade.
type ProxyFrontedToggler interface {
	SetProxyFronted(fronted bool)
}

// Coordinator sequences one container upgrade: prepare, clear dependents,
// replace, verify readiness, repair dependents.
type Coordinator struct {
	api       remote.API
	cfg       config.Config
	fetcher   *DetailsFetcher
	readiness *ReadinessMonitor
	stopMon   *StopMonitor
	resolver  *DependencyResolver
}

// NewCoordinator wires the upgrade pipeline over the given API
func NewCoordinator(api remote.API, cfg config.Config) *Coordinator {
	return &Coordinator{
		api:       api,
		cfg:       cfg,
		fetcher:   NewDetailsFetcher(api),
		readiness: NewReadinessMonitor(api, cfg.Upgrade.Readiness, cfg.Upgrade.LogTail),
		stopMon:   NewStopMonitor(api, cfg.Upgrade.Stop),
		resolver:  NewDependencyResolver(api),
	}
}

// Upgrade replaces the target container with a new image and repairs
// everything that depended on the old container's identity. Any primary-path
// failure aborts with a typed error; dependent failures become warnings.
func (c *Coordinator) Upgrade(ctx context.Context, target Target, newImage string) (result *Result, err error) {
	start := time.Now()
	upgradeID := uuid.NewString()
	logger := log.WithUpgrade(upgradeID[:8])

	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		metrics.RecordUpgrade(outcome, time.Since(start))
	}()

	ep := target.EndpointID

	// Step 1: inspect the target and derive the creation spec
	snapshot, err := c.fetcher.Fetch(ctx, ep, target.ContainerID)
	if err != nil {
		return nil, err
	}

	oldID := snapshot.ID
	name := util.CleanName(snapshot.Name)
	if name == "" {
		name = target.Name
	}

	oldImage := ""
	if snapshot.Config != nil {
		oldImage = snapshot.Config.Image
	}

	if c.frontsInstance(target, oldImage) {
		logger.Info().Msgf("Target %s fronts the instance; IP failover armed", name)
		if toggler, ok := c.api.(ProxyFrontedToggler); ok {
			toggler.SetProxyFronted(true)
		}
	}

	prepared, err := PrepareConfig(snapshot, newImage)
	if err != nil {
		return nil, err
	}

	identity := TargetIdentity{ID: oldID, Name: name, StackName: prepared.StackName}
	logger.Info().Msgf("Upgrading %s (%s): %s -> %s", name, util.ShortID(oldID), oldImage, newImage)

	var warnings []DependentWarning

	// rebuilds collects NetworkMode dependents (keyed by name, so a
	// dependent recreated mid-upgrade does not get rebuilt twice)
	rebuilds := make(map[string]Dependent)

	// Step 2: clear NetworkMode dependents before touching the target.
	// Removal, not just stop: a stopped dependent could be recreated by its
	// orchestrator still bound to the stale container ID.
	preDeps, err := c.resolver.Find(ctx, ep, identity, "")
	if err != nil {
		logger.Warn().Msgf("Pre-upgrade dependency scan failed: %v", err)
	}

	cleared := false
	for _, dep := range preDeps {
		if dep.Reason != ReasonNetworkMode {
			continue
		}
		rebuilds[dep.Name] = dep
		logger.Info().Msgf("Removing dependent %s (%s) before upgrade", dep.Name, util.ShortID(dep.ID))

		if stopErr := c.api.Stop(ctx, ep, dep.ID); stopErr != nil && !remote.IsNotFound(stopErr) {
			log.Debugf("Stopping dependent %s: %v", dep.Name, stopErr)
		}
		if rmErr := c.api.Remove(ctx, ep, dep.ID); rmErr != nil && !remote.IsNotFound(rmErr) {
			warnings = append(warnings, DependentWarning{ContainerID: dep.ID, ContainerName: dep.Name, Stage: "pre-remove", Err: rmErr})
			continue
		}
		cleared = true
	}
	if cleared {
		// Let the engine finish tearing down the shared namespaces
		if err := sleepCtx(ctx, c.cfg.Upgrade.DependentCleanupSettle); err != nil {
			return nil, err
		}
	}

	// Step 3: stop and remove the target
	if stopErr := c.api.Stop(ctx, ep, oldID); stopErr != nil && !remote.IsNotFound(stopErr) {
		logger.Warn().Msgf("Stopping %s: %v (may already be stopped)", name, stopErr)
	}
	c.stopMon.Wait(ctx, ep, oldID)

	if rmErr := c.api.Remove(ctx, ep, oldID); rmErr != nil && !remote.IsNotFound(rmErr) {
		return nil, fmt.Errorf("failed to remove container %s: %w", util.ShortID(oldID), rmErr)
	}

	// Past this point the old container is gone; aborting now would strand
	// the workload, so cancellation no longer propagates.
	ctx = context.WithoutCancel(ctx)

	// Step 4: create and start the replacement
	newID, err := c.api.Create(ctx, ep, prepared.Spec, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create replacement for %s: %w", name, err)
	}
	logger.Info().Msgf("Created replacement %s (%s)", name, util.ShortID(newID))

	if err := c.api.Start(ctx, ep, newID); err != nil {
		return nil, fmt.Errorf("failed to start replacement %s: %w", name, err)
	}

	// Step 5: readiness gate; failure aborts before any dependent work
	if err := c.readiness.Wait(ctx, ep, newID, newImage); err != nil {
		return nil, err
	}

	// Step 6: give the new container a moment before waking dependents
	c.stabilize(ctx, ep, newID)

	// Step 7: re-scan; NetworkMode references may now point at the new ID
	// or still at the name
	var stackDeps []Dependent
	postDeps, err := c.resolver.Find(ctx, ep, identity, newID)
	if err != nil {
		logger.Warn().Msgf("Post-upgrade dependency scan failed: %v", err)
	}
	for _, dep := range postDeps {
		if dep.Reason == ReasonNetworkMode {
			rebuilds[dep.Name] = dep
			if rmErr := c.api.Remove(ctx, ep, dep.ID); rmErr != nil && !remote.IsNotFound(rmErr) {
				warnings = append(warnings, DependentWarning{ContainerID: dep.ID, ContainerName: dep.Name, Stage: "remove", Err: rmErr})
			}
		} else {
			stackDeps = append(stackDeps, dep)
		}
	}

	// Step 8: rebuild NetworkMode dependents against the new ID
	if len(rebuilds) > 0 {
		if err := sleepCtx(ctx, c.cfg.Upgrade.RebuildSettle); err == nil {
			warnings = append(warnings, c.processDependents(sortedDependents(rebuilds), "rebuild", func(dep Dependent) error {
				return c.rebuildDependent(ctx, ep, dep, newID)
			})...)
		}
	}

	// Step 9: stack dependents just get a restart
	warnings = append(warnings, c.processDependents(stackDeps, "restart", func(dep Dependent) error {
		return c.restartStackDependent(ctx, ep, dep)
	})...)

	// Step 10: primary verdict is independent of dependent outcomes
	metrics.RecordDependentWarnings(len(warnings))
	logger.Info().Msgf("Upgrade of %s complete: new container %s, %d dependent warnings", name, util.ShortID(newID), len(warnings))

	return &Result{
		UpgradeID:      upgradeID,
		NewContainerID: newID,
		Warnings:       warnings,
	}, nil
}

// frontsInstance reports whether the target is the reverse proxy in front of
// the management API itself.
func (c *Coordinator) frontsInstance(target Target, image string) bool {
	if target.ProxyFronted {
		return true
	}
	proxyImage := c.cfg.Instance.ProxyImage
	return proxyImage != "" && image != "" && strings.Contains(image, proxyImage)
}

// processDependents runs fn over each dependent, collecting failures as
// warnings. One dependent's error never stops the rest.
func (c *Coordinator) processDependents(deps []Dependent, stage string, fn func(Dependent) error) []DependentWarning {
	var warnings []DependentWarning
	for _, dep := range deps {
		if err := fn(dep); err != nil {
			log.Errorf("Dependent %s (%s): %s failed: %v", dep.Name, util.ShortID(dep.ID), stage, err)
			warnings = append(warnings, DependentWarning{
				ContainerID:   dep.ID,
				ContainerName: dep.Name,
				Stage:         stage,
				Err:           err,
			})
		}
	}
	return warnings
}

// stabilize polls health for a short window after readiness so dependents
// attach to a container that has settled. Best-effort; never fails the upgrade.
func (c *Coordinator) stabilize(ctx context.Context, endpointID int, containerID string) {
	deadline := time.Now().Add(c.cfg.Upgrade.StabilizeMaxWait)

	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, c.cfg.Upgrade.Readiness.Interval); err != nil {
			return
		}

		snapshot, err := c.api.Inspect(ctx, endpointID, containerID)
		if err != nil {
			continue
		}

		st := snapshot.State
		if st == nil || !st.Running {
			continue
		}
		if st.Health == nil {
			return
		}
		switch st.Health.Status {
		case "healthy":
			return
		case "unhealthy":
			log.Warnf("Container %s reports unhealthy after readiness; waking dependents anyway", util.ShortID(containerID))
			return
		}
	}
	log.Debugf("Stabilization window for %s elapsed", util.ShortID(containerID))
}

// rebuildDependent recreates a NetworkMode dependent from its captured
// snapshot, pinned to the new container's network namespace.
func (c *Coordinator) rebuildDependent(ctx context.Context, endpointID int, dep Dependent, newID string) error {
	expectedMode := dep.NetworkModePrefix + newID
	spec := buildDependentSpec(dep.Snapshot, expectedMode)

	// A stale container may still occupy the name
	if err := c.api.Remove(ctx, endpointID, dep.Name); err != nil && !remote.IsNotFound(err) {
		log.Debugf("Stale-name removal for %s: %v", dep.Name, err)
	}

	id, err := c.createVerified(ctx, endpointID, spec, dep.Name, expectedMode)
	if err != nil {
		return err
	}

	if err := c.api.Start(ctx, endpointID, id); err != nil {
		return fmt.Errorf("failed to start rebuilt container: %w", err)
	}
	log.Infof("Rebuilt dependent %s (%s) on %s", dep.Name, util.ShortID(id), expectedMode)
	return nil
}

// createVerified creates a container and verifies its actual NetworkMode
// matches the expected value. On mismatch it deletes the container and
// retries exactly once with the mode forced.
func (c *Coordinator) createVerified(ctx context.Context, endpointID int, spec *remote.CreationSpec, name, expectedMode string) (string, error) {
	id, err := c.api.Create(ctx, endpointID, spec, name)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}

	ok, err := c.networkModeMatches(ctx, endpointID, id, expectedMode)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	log.Warnf("Container %s came up with the wrong network mode; recreating once with %s forced", name, expectedMode)
	if rmErr := c.api.Remove(ctx, endpointID, id); rmErr != nil && !remote.IsNotFound(rmErr) {
		return "", fmt.Errorf("failed to remove mismatched container %s: %w", name, rmErr)
	}

	spec.HostConfig.NetworkMode = container.NetworkMode(expectedMode)
	id, err = c.api.Create(ctx, endpointID, spec, name)
	if err != nil {
		return "", fmt.Errorf("failed to recreate %s: %w", name, err)
	}

	ok, err = c.networkModeMatches(ctx, endpointID, id, expectedMode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("container %s network mode still differs from %s after retry", name, expectedMode)
	}
	return id, nil
}

func (c *Coordinator) networkModeMatches(ctx context.Context, endpointID int, containerID, expectedMode string) (bool, error) {
	snapshot, err := c.api.Inspect(ctx, endpointID, containerID)
	if err != nil {
		return false, fmt.Errorf("failed to verify network mode of %s: %w", util.ShortID(containerID), err)
	}
	if snapshot.HostConfig == nil {
		return false, nil
	}
	return string(snapshot.HostConfig.NetworkMode) == expectedMode, nil
}

// restartStackDependent restarts a same-stack container so it re-resolves
// the upgraded service.
func (c *Coordinator) restartStackDependent(ctx context.Context, endpointID int, dep Dependent) error {
	if dep.IsRunning {
		if err := c.api.Stop(ctx, endpointID, dep.ID); err != nil && !remote.IsNotFound(err) {
			return fmt.Errorf("failed to stop: %w", err)
		}
		_ = sleepCtx(ctx, c.cfg.Upgrade.StackRestartPause)
		if err := c.api.Start(ctx, endpointID, dep.ID); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		return nil
	}

	if err := c.api.Start(ctx, endpointID, dep.ID); err != nil {
		// A plain start can fail on a half-stopped container; run a full cycle
		if stopErr := c.api.Stop(ctx, endpointID, dep.ID); stopErr != nil && !remote.IsNotFound(stopErr) {
			log.Debugf("Stop during restart cycle of %s: %v", dep.Name, stopErr)
		}
		_ = sleepCtx(ctx, c.cfg.Upgrade.StackRestartPause)
		if err := c.api.Start(ctx, endpointID, dep.ID); err != nil {
			return fmt.Errorf("failed to start after stop/start cycle: %w", err)
		}
	}
	return nil
}

// buildDependentSpec rebuilds a dependent's creation spec from scratch with
// an explicit host-config allow-list. Anything not listed stays behind:
// port and network settings conflict with the shared namespace, and
// identity-bound fields belong to the removed container.
func buildDependentSpec(orig remote.InspectSnapshot, networkMode string) *remote.CreationSpec {
	cfg := container.Config{}
	if orig.Config != nil {
		cfg.Image = orig.Config.Image
		cfg.Cmd = orig.Config.Cmd
		cfg.Env = orig.Config.Env
		cfg.Labels = orig.Config.Labels
		cfg.WorkingDir = orig.Config.WorkingDir
		cfg.Entrypoint = orig.Config.Entrypoint
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(networkMode),
	}
	if o := orig.HostConfig; o != nil {
		hostConfig.RestartPolicy = o.RestartPolicy
		hostConfig.Binds = o.Binds
		hostConfig.CapAdd = o.CapAdd
		hostConfig.CapDrop = o.CapDrop
		hostConfig.SecurityOpt = o.SecurityOpt
		hostConfig.LogConfig = o.LogConfig
		hostConfig.Privileged = o.Privileged
		hostConfig.ReadonlyRootfs = o.ReadonlyRootfs
		hostConfig.ShmSize = o.ShmSize
		hostConfig.Tmpfs = o.Tmpfs
		hostConfig.UsernsMode = o.UsernsMode
		hostConfig.IpcMode = o.IpcMode
		hostConfig.PidMode = o.PidMode
		hostConfig.Isolation = o.Isolation

		hostConfig.NanoCPUs = o.NanoCPUs
		hostConfig.CPUShares = o.CPUShares
		hostConfig.CPUPeriod = o.CPUPeriod
		hostConfig.CPUQuota = o.CPUQuota
		hostConfig.CpusetCpus = o.CpusetCpus
		hostConfig.CpusetMems = o.CpusetMems
		hostConfig.Memory = o.Memory
		hostConfig.MemoryReservation = o.MemoryReservation
		hostConfig.MemorySwap = o.MemorySwap
		hostConfig.Devices = o.Devices
		hostConfig.Ulimits = o.Ulimits
	}

	if hostConfig.RestartPolicy.Name == "" {
		hostConfig.RestartPolicy.Name = container.RestartPolicyDisabled
	}

	// Shared namespace: never any port or networking configuration
	return &remote.CreationSpec{
		Config:     cfg,
		HostConfig: hostConfig,
	}
}

// sortedDependents flattens the rebuild set in stable name order
func sortedDependents(deps map[string]Dependent) []Dependent {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Dependent, 0, len(deps))
	for _, name := range names {
		out = append(out, deps[name])
	}
	return out
}
