package upgrade

import (
	"context"
	"time"

	"github.com/pilotdeck/pilotdeck/internal/config"
	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/pkg/log"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

// StopMonitor polls until a stopping container has actually gone down.
// A best-effort check: callers proceed regardless of the answer.
type StopMonitor struct {
	api remote.API
	cfg config.StopConfig
}

// NewStopMonitor creates a monitor with the given poll settings
func NewStopMonitor(api remote.API, cfg config.StopConfig) *StopMonitor {
	return &StopMonitor{api: api, cfg: cfg}
}

// Wait returns true once the container reports exited/stopped or the inspect
// comes back 404 (removed externally counts as stopped). On timeout it
// returns false with a warning; this is never fatal.
func (m *StopMonitor) Wait(ctx context.Context, endpointID int, containerID string) bool {
	deadline := time.Now().Add(m.cfg.MaxWait)

	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, m.cfg.Interval); err != nil {
			return false
		}

		snapshot, err := m.api.Inspect(ctx, endpointID, containerID)
		if err != nil {
			if remote.IsNotFound(err) {
				// Already removed, which is as stopped as it gets
				return true
			}
			log.Debugf("Stop poll for %s failed: %v", util.ShortID(containerID), err)
			continue
		}

		if snapshot.State == nil {
			continue
		}
		switch snapshot.State.Status {
		case "exited", "stopped", "dead":
			return true
		}
	}

	log.Warnf("Container %s still not stopped after %v; proceeding anyway", util.ShortID(containerID), m.cfg.MaxWait)
	return false
}
