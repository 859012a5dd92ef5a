package upgrade

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/pilotdeck/pilotdeck/internal/config"
	"github.com/pilotdeck/pilotdeck/internal/remote"
)

func fastStopConfig() config.StopConfig {
	return config.StopConfig{
		Interval: time.Millisecond,
		MaxWait:  30 * time.Millisecond,
	}
}

func TestStopWaitExited(t *testing.T) {
	api := remote.NewMockAPI()
	api.SetInspect(remote.InspectSnapshot{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    "old-id",
			State: &types.ContainerState{Status: "exited"},
		},
	}, "old-id")

	monitor := NewStopMonitor(api, fastStopConfig())

	if !monitor.Wait(context.Background(), 1, "old-id") {
		t.Fatal("exited container should count as stopped")
	}
}

func TestStopWaitRemovedExternally(t *testing.T) {
	// Nothing registered: inspect comes back 404
	monitor := NewStopMonitor(remote.NewMockAPI(), fastStopConfig())

	if !monitor.Wait(context.Background(), 1, "old-id") {
		t.Fatal("a 404 during the stop wait should count as stopped")
	}
}

func TestStopWaitTimeout(t *testing.T) {
	api := remote.NewMockAPI()
	api.SetInspect(remote.InspectSnapshot{
		ContainerJSONBase: &types.ContainerJSONBase{ID: "old-id", State: runningState()},
	}, "old-id")

	monitor := NewStopMonitor(api, fastStopConfig())

	if monitor.Wait(context.Background(), 1, "old-id") {
		t.Fatal("a container that never stops should report false")
	}
}

func TestStopWaitEventualStop(t *testing.T) {
	api := remote.NewMockAPI()
	api.QueueInspect("old-id", remote.InspectResult{Snapshot: remote.InspectSnapshot{
		ContainerJSONBase: &types.ContainerJSONBase{ID: "old-id", State: runningState()},
	}})
	api.QueueInspect("old-id", remote.InspectResult{Snapshot: remote.InspectSnapshot{
		ContainerJSONBase: &types.ContainerJSONBase{ID: "old-id", State: runningState()},
	}})
	api.SetInspect(remote.InspectSnapshot{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    "old-id",
			State: &types.ContainerState{Status: "dead"},
		},
	}, "old-id")

	monitor := NewStopMonitor(api, fastStopConfig())

	if !monitor.Wait(context.Background(), 1, "old-id") {
		t.Fatal("container stopping mid-wait should report true")
	}
}
