package upgrade

import (
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"

	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

// Network-namespace sharing prefixes in HostConfig.NetworkMode
const (
	networkModeServicePrefix   = "service:"
	networkModeContainerPrefix = "container:"
)

// PreparedConfig is the sanitized creation input derived from an inspected container
type PreparedConfig struct {
	Spec              *remote.CreationSpec
	SharedNetworkMode bool
	StackName         string
}

// PrepareConfig builds a sanitized creation spec from an inspect snapshot,
// swapping in the new image. Identity-bound host-config fields are stripped,
// and port configuration is dropped entirely for containers that share
// another container's network namespace (the API rejects the combination).
func PrepareConfig(snapshot remote.InspectSnapshot, newImage string) (*PreparedConfig, error) {
	if newImage == "" {
		return nil, fmt.Errorf("new image reference is required")
	}

	cfg := container.Config{Image: newImage}
	if snapshot.Config != nil {
		cfg.Cmd = snapshot.Config.Cmd
		cfg.Env = snapshot.Config.Env
		cfg.ExposedPorts = snapshot.Config.ExposedPorts
		cfg.Labels = snapshot.Config.Labels
		cfg.WorkingDir = snapshot.Config.WorkingDir
		cfg.Entrypoint = snapshot.Config.Entrypoint
	}

	var hostConfig container.HostConfig
	if snapshot.HostConfig != nil {
		hostConfig = *snapshot.HostConfig
	}

	// Identity-bound fields of the old container must not carry over
	hostConfig.ContainerIDFile = ""
	hostConfig.AutoRemove = false
	hostConfig.Runtime = ""

	shared := isSharedNetworkMode(string(hostConfig.NetworkMode))
	if shared {
		// Port configuration conflicts with a shared network namespace
		hostConfig.PortBindings = nil
		hostConfig.PublishAllPorts = false
		cfg.ExposedPorts = nil
	}

	if hostConfig.RestartPolicy.Name == "" {
		hostConfig.RestartPolicy.Name = container.RestartPolicyDisabled
	}

	spec := &remote.CreationSpec{
		Config:     cfg,
		HostConfig: &hostConfig,
	}

	if !shared {
		if endpoints := rebuildEndpoints(snapshot); len(endpoints) > 0 {
			spec.NetworkingConfig = &network.NetworkingConfig{EndpointsConfig: endpoints}
		}
	}

	return &PreparedConfig{
		Spec:              spec,
		SharedNetworkMode: shared,
		StackName:         util.StackName(cfg.Labels),
	}, nil
}

func isSharedNetworkMode(mode string) bool {
	return strings.HasPrefix(mode, networkModeServicePrefix) ||
		strings.HasPrefix(mode, networkModeContainerPrefix)
}

// sharedModePrefix returns the service:/container: prefix of a shared
// network mode, or "" when the mode is not shared.
func sharedModePrefix(mode string) string {
	if strings.HasPrefix(mode, networkModeServicePrefix) {
		return networkModeServicePrefix
	}
	if strings.HasPrefix(mode, networkModeContainerPrefix) {
		return networkModeContainerPrefix
	}
	return ""
}

// rebuildEndpoints derives a fresh per-network endpoint configuration from
// the old container's network attachments, keeping only what a new container
// can request: static addressing, links and aliases.
func rebuildEndpoints(snapshot remote.InspectSnapshot) map[string]*network.EndpointSettings {
	if snapshot.NetworkSettings == nil || len(snapshot.NetworkSettings.Networks) == 0 {
		return nil
	}

	endpoints := make(map[string]*network.EndpointSettings, len(snapshot.NetworkSettings.Networks))
	for name, ep := range snapshot.NetworkSettings.Networks {
		if ep == nil {
			endpoints[name] = &network.EndpointSettings{}
			continue
		}

		rebuilt := &network.EndpointSettings{}
		if hasIPAMConfig(ep.IPAMConfig) {
			rebuilt.IPAMConfig = ep.IPAMConfig
		}
		if len(ep.Links) > 0 {
			rebuilt.Links = ep.Links
		}
		if len(ep.Aliases) > 0 {
			rebuilt.Aliases = ep.Aliases
		}
		endpoints[name] = rebuilt
	}
	return endpoints
}

func hasIPAMConfig(ipam *network.EndpointIPAMConfig) bool {
	if ipam == nil {
		return false
	}
	return ipam.IPv4Address != "" || ipam.IPv6Address != "" || len(ipam.LinkLocalIPs) > 0
}
