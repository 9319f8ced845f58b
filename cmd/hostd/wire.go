package main

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/config"
	"github.com/pluginhost/core/internal/di"
	"github.com/pluginhost/core/internal/discovery"
	"github.com/pluginhost/core/internal/lifecycle"
	"github.com/pluginhost/core/internal/loader"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
	"github.com/pluginhost/core/internal/metrics"
	"github.com/pluginhost/core/internal/registry"
	"github.com/pluginhost/core/internal/supervisor"
	"github.com/pluginhost/core/internal/validate"
	"github.com/prometheus/client_golang/prometheus"
	slacknotifier "github.com/pluginhost/core/plugins/example"
)

const slackNotifierID = "pluginhost.slack-notifier"

// uniformTimeouts applies a single configured stage deadline across every
// init/uninit stage; a zero d leaves each stage on the engine's own 30s
// default.
func uniformTimeouts(d time.Duration) lifecycle.Timeouts {
	return lifecycle.Timeouts{
		Validation: d, Creation: d, PluginValidation: d, ServiceInit: d,
		Configure: d, Start: d, Stop: d, Unload: d, Health: d,
	}
}

// host bundles every wired component a hostd subcommand needs.
type host struct {
	cfg        *config.Config
	discovery  *discovery.Pipeline
	registry   *registry.Registry
	loader     *loader.Loader
	policy     *di.Policy
	root       *di.RootProvider
	supervisor *supervisor.Supervisor
	promReg    *prometheus.Registry
}

func buildHost(cfg *config.Config) *host {
	logger.Initialize(cfg.Log.Level, cfg.Log.Pretty)

	surface := capability.NewSurfaceRegistry()
	root := di.NewRootProvider()
	surface.RegisterShared("ServiceProvider", root)

	reg := registry.New()
	ld := loader.New(surface)
	ld.RegisterBuiltin(slackNotifierID, slacknotifier.New)

	prohibited := mapset.NewSet(cfg.Validate.ProhibitedDependencies...)
	v := validate.New(validate.Config{
		HostVersion:                cfg.Validate.HostVersion,
		CurrentPlatform:            cfg.Validate.CurrentPlatform,
		ProhibitedDependencies:     prohibited,
		TrustedRoots:               cfg.Validate.TrustedRoots,
		TrustedSourcePolicyEnabled: cfg.Validate.TrustedSourcePolicyEnabled,
		IntegrityModeEnabled:       cfg.Validate.IntegrityModeEnabled,
		Prober:                     ld,
	})

	policy := di.NewPolicy(cfg.Lifecycle.DICacheSize)

	timeouts := uniformTimeouts(cfg.Lifecycle.StageTimeout)
	eng := lifecycle.New(reg, ld, v, policy, root, timeouts, cfg.Lifecycle.HostVersion, cfg.Lifecycle.Environment)

	sup := supervisor.New(reg, eng, policy, supervisor.Config{
		MaxConcurrentLoads: cfg.Runtime.MaxConcurrentLoads,
		HealthTimeout:      cfg.Runtime.HealthTimeout,
	})

	var promReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		sink := metrics.NewPrometheusSink(promReg)
		sup.SetSink(sink)
		policy.SetSink(sink)
	}

	disc := discovery.New(discovery.Config{
		Roots:                 cfg.Discovery.Roots,
		ManifestFilename:      cfg.Discovery.ManifestFilename,
		ExplicitManifests:     cfg.Discovery.ExplicitManifests,
		ScanArtifactsFallback: cfg.Discovery.ScanArtifactsFallback,
		ArtifactExtensions:    cfg.Discovery.ArtifactExtensions,
	})

	return &host{
		cfg:        cfg,
		discovery:  disc,
		registry:   reg,
		loader:     ld,
		policy:     policy,
		root:       root,
		supervisor: sup,
		promReg:    promReg,
	}
}

// builtinPlugins returns the synthetic DiscoveredPlugin entries for every
// enabled in-process plugin, bypassing discovery's filesystem walk (they
// carry no artifact on disk).
func (h *host) builtinPlugins() []manifest.DiscoveredPlugin {
	var plugins []manifest.DiscoveredPlugin

	if sn := h.cfg.Builtins.SlackNotifier; sn.Enabled {
		plugins = append(plugins, manifest.DiscoveredPlugin{
			Source: manifest.SourceConfig,
			Manifest: manifest.Manifest{
				ID:           slackNotifierID,
				Name:         "Slack Notifier",
				Version:      "1.0.0",
				MainArtifact: "builtin",
				EntryPoint:   "New",
			},
		})
	}

	return plugins
}

// builtinInitialConfig pushes each enabled built-in's configured values
// through the normal OnConfigChanged path once it has started, rather than
// inventing a second config-delivery mechanism.
func (h *host) builtinInitialConfig(ctx context.Context) {
	if sn := h.cfg.Builtins.SlackNotifier; sn.Enabled {
		err := h.supervisor.UpdateConfig(ctx, slackNotifierID, map[string]interface{}{
			"webhookUrl": sn.WebhookURL,
			"channel":    sn.Channel,
			"username":   sn.Username,
			"rateLimit":  float64(sn.RateLimit),
		})
		if err != nil {
			logger.Supervisor().Warn().Str("plugin_id", slackNotifierID).Err(err).Msg("failed to push initial builtin config")
		}
	}
}
