// Package discovery implements C2: a deterministic, restartable scan of
// configured sources that emits a deduplicated set of manifest.DiscoveredPlugin
// values. Grounded on the teacher's PluginDiscovery.discoverDynamicPlugins
// (api/internal/plugins/discovery.go), whose filepath.Walk-for-.so-files and
// multi-name findPluginFile probe are generalized here into the manifest-first,
// artifact-fallback algorithm spec §4.2 requires.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
)

// Config enumerates the discovery pipeline's input sources.
type Config struct {
	// Roots are directories walked recursively for the manifest file.
	Roots []string
	// ManifestFilename is the manifest's expected basename, default "plugin.json".
	ManifestFilename string
	// ExplicitManifests are individual manifest file paths processed regardless of Roots.
	ExplicitManifests []string
	// ScanArtifactsFallback enables the artifact-only fallback scan for a
	// root that yields no manifests.
	ScanArtifactsFallback bool
	// ArtifactExtensions are the file extensions probed during fallback scan.
	ArtifactExtensions []string
	// SystemLibraryPrefixes names artifact basenames to skip during fallback
	// scan (spec §4.2: "System.*, Microsoft.*, etc.").
	SystemLibraryPrefixes []string
}

func defaultConfig(cfg Config) Config {
	if cfg.ManifestFilename == "" {
		cfg.ManifestFilename = "plugin.json"
	}
	if len(cfg.ArtifactExtensions) == 0 {
		cfg.ArtifactExtensions = []string{".so"}
	}
	if len(cfg.SystemLibraryPrefixes) == 0 {
		cfg.SystemLibraryPrefixes = []string{"System.", "Microsoft.", "libc.", "libstd"}
	}
	return cfg
}

// SourceError records a failure localized to one source; it never aborts the
// sweep of other sources (spec §4.2: "Failures within one source do not
// abort others").
type SourceError struct {
	Source string
	Err    error
}

// Result is the finite sequence of discovered plugins plus per-source errors.
type Result struct {
	Plugins []manifest.DiscoveredPlugin
	Errors  []SourceError
}

// Pipeline is C2.
type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: defaultConfig(cfg)}
}

// Discover runs one full sweep. It is restartable: running it twice against
// an unchanged filesystem snapshot yields an identical Result.Plugins set.
func (p *Pipeline) Discover(ctx context.Context) Result {
	var result Result
	var found []manifest.DiscoveredPlugin

	for _, root := range p.cfg.Roots {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, SourceError{Source: root, Err: ctx.Err()})
			return result
		default:
		}

		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue // non-existent configured root is silently skipped, not an error
		}

		manifests, err := p.walkManifests(root)
		if err != nil {
			result.Errors = append(result.Errors, SourceError{Source: root, Err: err})
			continue
		}

		if len(manifests) == 0 && p.cfg.ScanArtifactsFallback {
			synthesized, err := p.scanArtifacts(root)
			if err != nil {
				result.Errors = append(result.Errors, SourceError{Source: root, Err: err})
				continue
			}
			found = append(found, synthesized...)
			continue
		}
		found = append(found, manifests...)
	}

	for _, path := range p.cfg.ExplicitManifests {
		dp, err := p.loadManifestFile(path, manifest.SourceConfig)
		if err != nil {
			result.Errors = append(result.Errors, SourceError{Source: path, Err: err})
			continue
		}
		found = append(found, *dp)
	}

	result.Plugins = dedupeByHighestVersion(found)
	logger.Discovery().Info().
		Int("discovered", len(result.Plugins)).
		Int("errors", len(result.Errors)).
		Msg("discovery sweep complete")
	return result
}

func (p *Pipeline) walkManifests(root string) ([]manifest.DiscoveredPlugin, error) {
	var out []manifest.DiscoveredPlugin
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries, don't abort the whole walk
		}
		if info.IsDir() {
			return nil
		}
		if info.Name() != p.cfg.ManifestFilename {
			return nil
		}
		dp, err := p.loadManifestFile(path, manifest.SourceManifest)
		if err != nil {
			logger.Discovery().Warn().Str("path", path).Err(err).Msg("manifest parse failed")
			return nil
		}
		out = append(out, *dp)
		return nil
	})
	return out, err
}

func (p *Pipeline) loadManifestFile(path string, source manifest.SourceTag) (*manifest.DiscoveredPlugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	artifactPath := filepath.Join(filepath.Dir(path), m.MainArtifact)
	return &manifest.DiscoveredPlugin{Manifest: *m, ArtifactPath: artifactPath, Source: source}, nil
}

// scanArtifacts synthesizes a minimal manifest per artifact file found in a
// directory that yielded no manifests (spec §4.2 step 2-3). The entry point
// is left for C4's loader to resolve and verify by probing the artifact;
// discovery only names the artifact and its filename-derived id.
func (p *Pipeline) scanArtifacts(root string) ([]manifest.DiscoveredPlugin, error) {
	var out []manifest.DiscoveredPlugin
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !hasAnyExt(info.Name(), p.cfg.ArtifactExtensions) {
			return nil
		}
		base := strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
		if hasAnyPrefix(base, p.cfg.SystemLibraryPrefixes) {
			return nil
		}
		out = append(out, manifest.DiscoveredPlugin{
			Manifest: manifest.Manifest{
				ID:           base,
				Name:         base,
				Version:      "0.0.0",
				MainArtifact: info.Name(),
			},
			ArtifactPath: path,
			Source:       manifest.SourceArtifact,
		})
		return nil
	})
	return out, err
}

func hasAnyExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, pre := range prefixes {
		if strings.HasPrefix(name, pre) {
			return true
		}
	}
	return false
}

// dedupeByHighestVersion groups by manifest id and keeps the record with the
// highest parseable version, ties broken by discovery order (spec §4.2 step
// 4, §8 boundary behavior).
func dedupeByHighestVersion(all []manifest.DiscoveredPlugin) []manifest.DiscoveredPlugin {
	bestIdx := make(map[string]int)
	var kept []manifest.DiscoveredPlugin

	for _, dp := range all {
		id := dp.Manifest.ID
		if id == "" {
			continue
		}
		idx, seen := bestIdx[id]
		if !seen {
			bestIdx[id] = len(kept)
			kept = append(kept, dp)
			continue
		}
		if versionGreater(dp.Manifest.Version, kept[idx].Manifest.Version) {
			kept[idx] = dp
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Manifest.ID < kept[j].Manifest.ID })
	return kept
}

func versionGreater(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return false // unparseable challenger never displaces the incumbent
	}
	return va.GreaterThan(vb)
}
