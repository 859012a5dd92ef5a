package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pilotdeck configuration
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Upgrade  UpgradeConfig  `yaml:"upgrade"`
	Log      LogConfig      `yaml:"log"`

	// Runtime flags (not in YAML)
	DryRun bool
}

// InstanceConfig holds connection settings for the managed instance
type InstanceConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	ProxyImage  string        `yaml:"proxy_image"`
	FailoverIP  string        `yaml:"failover_ip"`
	InsecureTLS bool          `yaml:"insecure_tls"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// UpgradeConfig holds upgrade pipeline behavior settings
type UpgradeConfig struct {
	Readiness ReadinessConfig `yaml:"readiness"`
	Stop      StopConfig      `yaml:"stop"`

	StabilizeMaxWait       time.Duration `yaml:"stabilize_max_wait"`
	DependentCleanupSettle time.Duration `yaml:"dependent_cleanup_settle"`
	RebuildSettle          time.Duration `yaml:"rebuild_settle"`
	StackRestartPause      time.Duration `yaml:"stack_restart_pause"`
	LogTail                int           `yaml:"log_tail"`
}

// ReadinessConfig holds the readiness poll thresholds. The elapsed/checks
// pairs are empirically tuned defaults, kept configurable on purpose.
type ReadinessConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxWait  time.Duration `yaml:"max_wait"`

	// Containers reporting a health object that stays in "starting"
	HealthGraceElapsed time.Duration `yaml:"health_grace_elapsed"`
	HealthGraceChecks  int           `yaml:"health_grace_checks"`

	// Containers with no health object at all
	StableElapsed time.Duration `yaml:"stable_elapsed"`
	StableChecks  int           `yaml:"stable_checks"`

	// Early-exit shortcut for images that are not slow starters
	QuickElapsed time.Duration `yaml:"quick_elapsed"`
	QuickChecks  int           `yaml:"quick_checks"`

	// Images that never get the quick shortcut (databases mostly)
	SlowStartImages string `yaml:"slow_start_images"`
}

// StopConfig holds the stop-confirmation poll settings
type StopConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultSlowStartImages matches images that need the full stabilization
// window before being considered ready without a health object.
const DefaultSlowStartImages = `postgres|mysql|mariadb|redis|mongodb|couchdb|influxdb|elasticsearch`

// Default returns a config with sensible defaults
func Default() Config {
	return Config{
		Instance: InstanceConfig{
			HTTPTimeout: 30 * time.Second,
		},
		Upgrade: UpgradeConfig{
			Readiness: ReadinessConfig{
				Interval:           2 * time.Second,
				MaxWait:            120 * time.Second,
				HealthGraceElapsed: 30 * time.Second,
				HealthGraceChecks:  5,
				StableElapsed:      15 * time.Second,
				StableChecks:       3,
				QuickElapsed:       5 * time.Second,
				QuickChecks:        2,
				SlowStartImages:    DefaultSlowStartImages,
			},
			Stop: StopConfig{
				Interval: 500 * time.Millisecond,
				MaxWait:  10 * time.Second,
			},
			StabilizeMaxWait:       30 * time.Second,
			DependentCleanupSettle: 3 * time.Second,
			RebuildSettle:          5 * time.Second,
			StackRestartPause:      1 * time.Second,
			LogTail:                50,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	cfg := Default()

	// If file doesn't exist, return defaults
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnvironmentOverrides applies environment variable overrides to the config
func (c *Config) ApplyEnvironmentOverrides() {
	if val := os.Getenv("PILOTDECK_INSTANCE_URL"); val != "" {
		c.Instance.URL = val
	}

	if val := os.Getenv("PILOTDECK_API_KEY"); val != "" {
		c.Instance.APIKey = val
	}

	if val := os.Getenv("PILOTDECK_USERNAME"); val != "" {
		c.Instance.Username = val
	}

	if val := os.Getenv("PILOTDECK_PASSWORD"); val != "" {
		c.Instance.Password = val
	}

	if val := os.Getenv("PILOTDECK_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}

	if val := os.Getenv("PILOTDECK_LOG_JSON"); val != "" {
		if jsonLog, err := strconv.ParseBool(val); err == nil {
			c.Log.JSON = jsonLog
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Instance.URL == "" {
		return fmt.Errorf("instance.url cannot be empty")
	}

	u, err := url.Parse(c.Instance.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("instance.url is not a valid URL: %s", c.Instance.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("instance.url must use http or https, got %s", u.Scheme)
	}

	if c.Instance.APIKey == "" && (c.Instance.Username == "" || c.Instance.Password == "") {
		return fmt.Errorf("instance credentials required: set api_key or username/password")
	}

	if c.Instance.FailoverIP != "" && net.ParseIP(c.Instance.FailoverIP) == nil {
		return fmt.Errorf("instance.failover_ip is not an IP address: %s", c.Instance.FailoverIP)
	}

	r := c.Upgrade.Readiness
	if r.Interval <= 0 {
		return fmt.Errorf("upgrade.readiness.interval must be positive")
	}
	if r.MaxWait < r.Interval {
		return fmt.Errorf("upgrade.readiness.max_wait must be at least the poll interval")
	}
	if r.SlowStartImages != "" {
		if _, err := regexp.Compile(r.SlowStartImages); err != nil {
			return fmt.Errorf("upgrade.readiness.slow_start_images is not a valid regexp: %w", err)
		}
	}

	if c.Upgrade.Stop.Interval <= 0 {
		return fmt.Errorf("upgrade.stop.interval must be positive")
	}

	if c.Upgrade.LogTail <= 0 {
		return fmt.Errorf("upgrade.log_tail must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}
