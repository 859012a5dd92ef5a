package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	flag "github.com/spf13/pflag"

	"github.com/pilotdeck/pilotdeck/internal/config"
	"github.com/pilotdeck/pilotdeck/internal/remote"
	"github.com/pilotdeck/pilotdeck/internal/upgrade"
	"github.com/pilotdeck/pilotdeck/pkg/log"
	"github.com/pilotdeck/pilotdeck/pkg/util"
)

const version = "0.1.0"

var (
	// commit is injected at build time
	commit = "unknown"
)

func main() {
	// Panic recovery to ensure logs are flushed and errors captured
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("PANIC: %v\nStack Trace:\n%s", r, debug.Stack()))
			os.Exit(1)
		}
	}()

	// Define CLI flags
	configPath := flag.String("config", "/config/pilotdeck.yml", "Path to config file")
	instanceURL := flag.String("instance-url", "", "Override instance URL from config")
	endpointID := flag.Int("endpoint-id", 0, "Endpoint ID hosting the container")
	containerID := flag.String("container", "", "ID of the container to upgrade")
	newImage := flag.String("image", "", "New image reference to upgrade to")
	proxyFronted := flag.Bool("proxy-fronted", false, "Treat the target as the proxy fronting the instance")
	dryRun := flag.Bool("dry-run", false, "Plan the upgrade without changing anything")
	logLevel := flag.String("log-level", "", "Logging level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("pilotdeck version %s (commit: %s, %s/%s)\n", version, commit, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *instanceURL != "" {
		cfg.Instance.URL = *instanceURL
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *endpointID <= 0 || *containerID == "" || *newImage == "" {
		fmt.Fprintln(os.Stderr, "--endpoint-id, --container and --image are required")
		os.Exit(1)
	}

	// Initialize logger
	log.Initialize(log.Config{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
	})

	log.Infof("pilotdeck version %s starting", version)
	log.Infof("Instance: %s, endpoint %d", cfg.Instance.URL, *endpointID)

	client, err := buildClient(cfg, *proxyFronted)
	if err != nil {
		log.ErrorErr("Failed to create instance client", err)
		os.Exit(1)
	}

	target := upgrade.Target{
		InstanceURL:  cfg.Instance.URL,
		EndpointID:   *endpointID,
		ContainerID:  *containerID,
		ProxyFronted: *proxyFronted,
	}

	ctx := context.Background()

	if cfg.DryRun {
		if err := planUpgrade(ctx, client, target, *newImage); err != nil {
			log.ErrorErr("Dry-run planning failed", err)
			os.Exit(1)
		}
		return
	}

	coordinator := upgrade.NewCoordinator(client, cfg)
	result, err := coordinator.Upgrade(ctx, target, *newImage)
	if err != nil {
		log.ErrorErr("Upgrade failed", err)
		os.Exit(1)
	}

	for _, warning := range result.Warnings {
		log.Warnf("Dependent warning: %s", warning)
	}
	log.Infof("Upgrade succeeded: new container %s (%d dependent warnings)", util.ShortID(result.NewContainerID), len(result.Warnings))
}

// buildClient wires the token store, failover resolver and HTTP client
func buildClient(cfg config.Config, proxyFronted bool) (*remote.Client, error) {
	var cache remote.InstanceIPCache
	if cfg.Instance.FailoverIP != "" {
		cache = remote.StaticIPCache{
			remote.CanonicalURL(cfg.Instance.URL): cfg.Instance.FailoverIP,
		}
	}

	return remote.NewClient(cfg.Instance.URL, remote.Options{
		Credentials: remote.Credentials{
			APIKey:   cfg.Instance.APIKey,
			Username: cfg.Instance.Username,
			Password: cfg.Instance.Password,
		},
		Tokens:       remote.NewTokenStore(),
		Failover:     remote.NewFailoverResolver(cache),
		ProxyFronted: proxyFronted,
		InsecureTLS:  cfg.Instance.InsecureTLS,
		Timeout:      cfg.Instance.HTTPTimeout,
	})
}

// planUpgrade fetches, prepares and resolves dependents without mutating anything
func planUpgrade(ctx context.Context, client *remote.Client, target upgrade.Target, newImage string) error {
	fetcher := upgrade.NewDetailsFetcher(client)

	snapshot, err := fetcher.Fetch(ctx, target.EndpointID, target.ContainerID)
	if err != nil {
		return err
	}

	name := util.CleanName(snapshot.Name)
	prepared, err := upgrade.PrepareConfig(snapshot, newImage)
	if err != nil {
		return err
	}

	log.Infof("[DRY-RUN] Would upgrade %s (%s) to %s", name, util.ShortID(snapshot.ID), newImage)
	if prepared.SharedNetworkMode {
		log.Infof("[DRY-RUN] Target shares another container's network namespace; port settings would be dropped")
	}
	if prepared.StackName != "" {
		log.Infof("[DRY-RUN] Target belongs to stack %q", prepared.StackName)
	}

	resolver := upgrade.NewDependencyResolver(client)
	identity := upgrade.TargetIdentity{ID: snapshot.ID, Name: name, StackName: prepared.StackName}

	dependents, err := resolver.Find(ctx, target.EndpointID, identity, "")
	if err != nil {
		return err
	}

	if len(dependents) == 0 {
		log.Info("[DRY-RUN] No dependent containers found")
		return nil
	}
	for _, dep := range dependents {
		log.Infof("[DRY-RUN] Dependent %s (%s): %s", dep.Name, util.ShortID(dep.ID), dep.Reason)
	}
	return nil
}

// loadConfig loads and merges configuration from file and environment
func loadConfig(path string) (config.Config, error) {
	// Check if config env var is set
	if envPath := os.Getenv("PILOTDECK_CONFIG"); envPath != "" {
		path = envPath
	}

	// Load from file (or use defaults if file doesn't exist)
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return config.Config{}, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvironmentOverrides()

	return cfg, nil
}
