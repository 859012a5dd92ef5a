package upgrade

import (
	"context"
	"regexp"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/pilotdeck/pilotdeck/internal/config"
	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/pkg/log"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

// readyState enumerates the readiness poll states. Transitions happen in
// readinessRun.step, one decision per poll.
type readyState int

const (
	stateWaitingStart readyState = iota
	stateRunningUnverified
	stateHealthStarting
	stateStabilizing
)

// observation is one poll's worth of input to the state machine
type observation struct {
	elapsed     time.Duration
	consecutive int // consecutive polls that saw the container running
	state       *types.ContainerState
}

// ReadinessMonitor polls a freshly (re)started container until it is usable
// or demonstrably failed. The thresholds are tuned defaults from config, not
// derived constants.
type ReadinessMonitor struct {
	api     remote.API
	cfg     config.ReadinessConfig
	logTail int
}

// NewReadinessMonitor creates a monitor with the given poll settings
func NewReadinessMonitor(api remote.API, cfg config.ReadinessConfig, logTail int) *ReadinessMonitor {
	return &ReadinessMonitor{api: api, cfg: cfg, logTail: logTail}
}

// Wait polls until the container is ready, failed, or the max wait elapses.
// On timeout a final inspect decides: a running container is accepted with a
// warning, anything else is a ReadinessTimeoutError.
func (m *ReadinessMonitor) Wait(ctx context.Context, endpointID int, containerID, image string) error {
	run, err := newReadinessRun(m.cfg, image)
	if err != nil {
		return err
	}

	start := time.Now()
	deadline := start.Add(m.cfg.MaxWait)
	state := stateWaitingStart
	consecutive := 0

	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, m.cfg.Interval); err != nil {
			return err
		}

		snapshot, err := m.api.Inspect(ctx, endpointID, containerID)
		if err != nil {
			// Transient fetch errors are not terminal but do reset the streak
			consecutive = 0
			log.Debugf("Readiness poll for %s failed: %v", util.ShortID(containerID), err)
			continue
		}

		if snapshot.State != nil && snapshot.State.Running {
			consecutive++
		} else {
			consecutive = 0
		}

		obs := observation{
			elapsed:     time.Since(start),
			consecutive: consecutive,
			state:       snapshot.State,
		}

		next, done, stepErr := run.step(state, obs)
		state = next
		if done {
			if stepErr != nil {
				return m.attachLogs(ctx, endpointID, containerID, stepErr)
			}
			return nil
		}
	}

	// One last look: a container that is up by now is good enough
	snapshot, err := m.api.Inspect(ctx, endpointID, containerID)
	if err == nil && snapshot.State != nil && snapshot.State.Running {
		log.Warnf("Container %s did not settle within %v but is running; accepting as ready", util.ShortID(containerID), m.cfg.MaxWait)
		return nil
	}

	lastState := "unknown"
	if err == nil && snapshot.State != nil {
		lastState = snapshot.State.Status
	}
	return &ReadinessTimeoutError{ID: containerID, State: lastState, Waited: m.cfg.MaxWait}
}

// attachLogs enriches terminal failures with the container's log tail
func (m *ReadinessMonitor) attachLogs(ctx context.Context, endpointID int, containerID string, stepErr error) error {
	tail, logErr := m.api.Logs(ctx, endpointID, containerID, m.logTail)
	if logErr != nil {
		log.Debugf("Could not fetch logs for %s: %v", util.ShortID(containerID), logErr)
		tail = ""
	}

	switch e := stepErr.(type) {
	case *ContainerExitedError:
		e.ID = containerID
		e.LogTail = tail
		return e
	case *ContainerUnhealthyError:
		e.ID = containerID
		e.LogTail = tail
		return e
	}
	return stepErr
}

// readinessRun holds per-wait inputs so step stays a pure decision function
type readinessRun struct {
	cfg       config.ReadinessConfig
	image     string
	slowStart *regexp.Regexp
}

func newReadinessRun(cfg config.ReadinessConfig, image string) (*readinessRun, error) {
	run := &readinessRun{cfg: cfg, image: image}

	if cfg.SlowStartImages != "" {
		re, err := regexp.Compile("(?i)" + cfg.SlowStartImages)
		if err != nil {
			return nil, err
		}
		run.slowStart = re
	}
	return run, nil
}

// step maps one observation to the next state and, when terminal, a verdict.
// A nil error with done=true means ready.
func (r *readinessRun) step(s readyState, obs observation) (readyState, bool, error) {
	st := obs.state
	if st == nil {
		return stateWaitingStart, false, nil
	}

	if !st.Running {
		if st.Status == "exited" {
			return s, true, &ContainerExitedError{ExitCode: st.ExitCode}
		}
		return stateWaitingStart, false, nil
	}

	if st.Health != nil {
		switch st.Health.Status {
		case "healthy":
			return stateHealthStarting, true, nil
		case "unhealthy":
			return stateHealthStarting, true, &ContainerUnhealthyError{HealthStatus: string(st.Health.Status)}
		default:
			// "starting" or "none": some containers never properly report
			// health; a long-enough stable run counts as ready.
			if obs.elapsed >= r.cfg.HealthGraceElapsed && obs.consecutive >= r.cfg.HealthGraceChecks {
				return stateHealthStarting, true, nil
			}
			return stateHealthStarting, false, nil
		}
	}

	// No health object at all
	if obs.consecutive <= 1 {
		s = stateRunningUnverified
	} else {
		s = stateStabilizing
	}

	if obs.elapsed >= r.cfg.StableElapsed && obs.consecutive >= r.cfg.StableChecks {
		return s, true, nil
	}
	if obs.elapsed >= r.cfg.QuickElapsed && obs.consecutive >= r.cfg.QuickChecks && !r.isSlowStarter() {
		return s, true, nil
	}
	return s, false, nil
}

// isSlowStarter reports whether the image gets the longer stabilization
// floor instead of the quick shortcut (databases mostly).
func (r *readinessRun) isSlowStarter() bool {
	return r.slowStart != nil && r.slowStart.MatchString(r.image)
}

// sleepCtx sleeps for d or until the context is canceled
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
