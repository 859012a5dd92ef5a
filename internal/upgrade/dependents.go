package upgrade

import (
	"context"
	"strings"

	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/pkg/log"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

// DependencyReason classifies why a container depends on the upgrade target
type DependencyReason int

const (
	// ReasonNetworkMode means the container shares the target's network namespace
	ReasonNetworkMode DependencyReason = iota
	// ReasonStack means the container belongs to the target's compose project or stack
	ReasonStack
)

func (r DependencyReason) String() string {
	switch r {
	case ReasonNetworkMode:
		return "network-mode"
	case ReasonStack:
		return "stack"
	}
	return "unknown"
}

// TargetIdentity is what dependents are matched against
type TargetIdentity struct {
	ID        string // full 64-char hash of the old container
	Name      string // clean name, no leading slash
	StackName string
}

// Dependent is a container tied to the upgrade target, valid only within one
// upgrade transaction.
type Dependent struct {
	ID        string
	Name      string
	IsRunning bool
	IsStopped bool
	Reason    DependencyReason

	// NetworkModePrefix is "service:" or "container:" for NetworkMode
	// dependents; the rebuilt container keeps the same prefix.
	NetworkModePrefix string

	// Snapshot captured at scan time, for rebuilding after the target is gone
	Snapshot remote.InspectSnapshot
}

// DependencyResolver scans the endpoint's fleet for containers whose network
// namespace or stack membership ties them to the upgrade target.
type DependencyResolver struct {
	api remote.API
}

// NewDependencyResolver creates a resolver over the given API
func NewDependencyResolver(api remote.API) *DependencyResolver {
	return &DependencyResolver{api: api}
}

// Find inspects every other container on the endpoint and classifies it.
// NetworkMode references match the target's name, its old full ID, or (when
// newID is set, on the post-upgrade pass) the new full ID. Stack membership
// is only considered for containers not already NetworkMode-classified.
// Containers that fail to inspect are logged and skipped.
func (r *DependencyResolver) Find(ctx context.Context, endpointID int, target TargetIdentity, newID string) ([]Dependent, error) {
	summaries, err := r.api.ListContainers(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	var dependents []Dependent
	for _, summary := range summaries {
		if summary.ID == target.ID || (newID != "" && summary.ID == newID) {
			continue
		}

		snapshot, err := r.api.Inspect(ctx, endpointID, summary.ID)
		if err != nil {
			log.Debugf("Skipping dependency check for %s: %v", util.ShortID(summary.ID), err)
			continue
		}

		dep, ok := classify(snapshot, target, newID)
		if ok {
			dependents = append(dependents, dep)
		}
	}
	return dependents, nil
}

// classify decides whether one container depends on the target.
// NetworkMode takes priority over Stack; a container is never double-classified.
func classify(snapshot remote.InspectSnapshot, target TargetIdentity, newID string) (Dependent, bool) {
	dep := Dependent{
		ID:       snapshot.ID,
		Name:     util.CleanName(snapshot.Name),
		Snapshot: snapshot,
	}

	if snapshot.State != nil {
		switch snapshot.State.Status {
		case "running", "paused":
			dep.IsRunning = true
		case "exited", "created", "dead":
			dep.IsStopped = true
		}
	}

	if snapshot.HostConfig != nil {
		mode := string(snapshot.HostConfig.NetworkMode)
		if prefix := sharedModePrefix(mode); prefix != "" {
			ref := strings.TrimPrefix(mode, prefix)
			if ref == target.Name || ref == target.ID || (newID != "" && ref == newID) {
				dep.Reason = ReasonNetworkMode
				dep.NetworkModePrefix = prefix
				return dep, true
			}
		}
	}

	if target.StackName != "" && (dep.IsRunning || dep.IsStopped) {
		var labels map[string]string
		if snapshot.Config != nil {
			labels = snapshot.Config.Labels
		}
		if util.StackName(labels) == target.StackName {
			dep.Reason = ReasonStack
			return dep, true
		}
	}

	return Dependent{}, false
}
