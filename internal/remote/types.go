package remote

import (
	"context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
)

// InspectSnapshot is the full inspect payload for one container, as returned
// by the management API's per-endpoint Docker passthrough.
type InspectSnapshot = types.ContainerJSON

// ContainerSummary is one entry of the endpoint's container list
type ContainerSummary = types.Container

// CreationSpec is the request body for container creation. It is built fresh
// from an InspectSnapshot for every create call and never persisted.
type CreationSpec struct {
	container.Config
	HostConfig       *container.HostConfig     `json:"HostConfig,omitempty"`
	NetworkingConfig *network.NetworkingConfig `json:"NetworkingConfig,omitempty"`
}

// Credentials identifies against the management API, either with an API key
// or with a username/password pair exchanged for a bearer token.
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// HasAPIKey reports whether API-key authentication should be used
func (c Credentials) HasAPIKey() bool {
	return c.APIKey != ""
}

// API is the capability surface the upgrade engine consumes from the
// remote container-management API.
type API interface {
	Inspect(ctx context.Context, endpointID int, containerID string) (InspectSnapshot, error)
	Create(ctx context.Context, endpointID int, spec *CreationSpec, name string) (string, error)
	Start(ctx context.Context, endpointID int, containerID string) error
	Stop(ctx context.Context, endpointID int, containerID string) error
	Remove(ctx context.Context, endpointID int, containerID string) error
	Logs(ctx context.Context, endpointID int, containerID string, tail int) (string, error)
	ListContainers(ctx context.Context, endpointID int) ([]ContainerSummary, error)
}
