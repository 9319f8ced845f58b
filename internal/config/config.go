// Package config loads cmd/hostd's process configuration, the one place in
// this module that touches viper: internal packages take plain Go values in
// their constructors and know nothing about config files or environment
// variables (spec §1/§6 name config sourcing a peripheral, out-of-core-scope
// concern).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete set of knobs cmd/hostd exposes for wiring C1-C7.
type Config struct {
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Validate  ValidateConfig  `mapstructure:"validate"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Builtins  BuiltinsConfig  `mapstructure:"builtins"`
}

type DiscoveryConfig struct {
	Roots                 []string `mapstructure:"roots"`
	ManifestFilename      string   `mapstructure:"manifest_filename"`
	ExplicitManifests     []string `mapstructure:"explicit_manifests"`
	ScanArtifactsFallback bool     `mapstructure:"scan_artifacts_fallback"`
	ArtifactExtensions    []string `mapstructure:"artifact_extensions"`
	WatchEnabled          bool     `mapstructure:"watch_enabled"`
}

type ValidateConfig struct {
	HostVersion                string   `mapstructure:"host_version"`
	CurrentPlatform            string   `mapstructure:"current_platform"`
	ProhibitedDependencies     []string `mapstructure:"prohibited_dependencies"`
	TrustedRoots               []string `mapstructure:"trusted_roots"`
	TrustedSourcePolicyEnabled bool     `mapstructure:"trusted_source_policy_enabled"`
	IntegrityModeEnabled       bool     `mapstructure:"integrity_mode_enabled"`
}

type LifecycleConfig struct {
	StageTimeout     time.Duration `mapstructure:"stage_timeout"`
	HostVersion      string        `mapstructure:"host_version"`
	Environment      string        `mapstructure:"environment"`
	DICacheSize      int           `mapstructure:"di_cache_size"`
}

type RuntimeConfig struct {
	MaxConcurrentLoads int64         `mapstructure:"max_concurrent_loads"`
	HealthTimeout      time.Duration `mapstructure:"health_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// BuiltinsConfig configures the in-process plugins the host ships with,
// bypassing discovery and dynamic loading entirely (spec §4.3's "built-in
// module" path, mirrored from the teacher's builtinPlugins map).
type BuiltinsConfig struct {
	SlackNotifier SlackNotifierConfig `mapstructure:"slack_notifier"`
}

type SlackNotifierConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
	RateLimit  int    `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discovery.manifest_filename", "plugin.json")
	v.SetDefault("discovery.scan_artifacts_fallback", true)
	v.SetDefault("discovery.artifact_extensions", []string{".so"})
	v.SetDefault("discovery.watch_enabled", false)

	v.SetDefault("validate.current_platform", "")
	v.SetDefault("validate.trusted_source_policy_enabled", false)
	v.SetDefault("validate.integrity_mode_enabled", false)

	v.SetDefault("lifecycle.stage_timeout", "30s")
	v.SetDefault("lifecycle.environment", "production")
	v.SetDefault("lifecycle.di_cache_size", 4096)

	v.SetDefault("runtime.max_concurrent_loads", 5)
	v.SetDefault("runtime.health_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8081")

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("builtins.slack_notifier.enabled", false)
	v.SetDefault("builtins.slack_notifier.username", "pluginhost")
	v.SetDefault("builtins.slack_notifier.rate_limit", 20)
}

// Load reads configFile (if non-empty) over defaults, then lets
// PLUGINHOST_-prefixed environment variables override any key.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("pluginhost")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
