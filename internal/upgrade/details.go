package upgrade

import (
	"context"
	"fmt"

	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/pkg/log"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

// DetailsFetcher retrieves inspect snapshots resiliently. Transport concerns
// (auth refresh, proxy-IP failover) live in the remote client; this layer
// handles the ID-format quirks of the remote API, which matches full
// 64-character hashes on some paths and only the 12-character short form on
// others.
type DetailsFetcher struct {
	api remote.API
}

// NewDetailsFetcher creates a fetcher over the given API
func NewDetailsFetcher(api remote.API) *DetailsFetcher {
	return &DetailsFetcher{api: api}
}

// Fetch inspects a container, retrying once with the short ID form when a
// full-hash lookup comes back 404.
func (f *DetailsFetcher) Fetch(ctx context.Context, endpointID int, containerID string) (remote.InspectSnapshot, error) {
	snapshot, err := f.api.Inspect(ctx, endpointID, containerID)
	if err == nil {
		return snapshot, nil
	}

	if remote.IsNotFound(err) && util.IsFullID(containerID) {
		shortID := util.ShortID(containerID)
		log.Debugf("Container %s not found by full ID, retrying with %s", containerID, shortID)

		snapshot, retryErr := f.api.Inspect(ctx, endpointID, shortID)
		if retryErr == nil {
			return snapshot, nil
		}
		if remote.IsNotFound(retryErr) {
			return remote.InspectSnapshot{}, notFoundWithHint(shortID)
		}
		return remote.InspectSnapshot{}, retryErr
	}

	if remote.IsNotFound(err) {
		return remote.InspectSnapshot{}, notFoundWithHint(util.ShortID(containerID))
	}
	return remote.InspectSnapshot{}, err
}

func notFoundWithHint(shortID string) error {
	return &remote.NotFoundError{
		ID:   shortID,
		Hint: fmt.Sprintf("container %s may have been deleted or stopped; refresh the container list and retry", shortID),
	}
}
