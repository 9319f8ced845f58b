// Package validate implements C3: independent structural, manifest,
// compatibility, dependency, and security checks over a DiscoveredPlugin.
// Grounded on the teacher's validator.go (ValidateRequest/formatValidationError
// shape), generalized from HTTP request DTOs to plugin manifests.
package validate

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	mapset "github.com/deckarep/golang-set/v2"
	govalidator "github.com/go-playground/validator/v10"
	"github.com/pluginhost/core/internal/capability"
	"github.com/pluginhost/core/internal/logger"
	"github.com/pluginhost/core/internal/manifest"
)

// Prober lets C4's isolated loader contribute the "entry point resolvable /
// implements the capability set / concrete / parameterless constructor"
// checks (spec §4.3) without C3 importing C4. It is optional: omitting it
// skips those checks with an info-level entry rather than failing closed.
type Prober interface {
	Probe(artifactPath, entryPoint string) (ok bool, reason string, err error)
}

// Config configures C3's policy-driven checks.
type Config struct {
	HostVersion                string
	CurrentPlatform            string
	ProhibitedDependencies     mapset.Set[string]
	TrustedRoots               []string
	TrustedSourcePolicyEnabled bool
	IntegrityModeEnabled       bool
	Prober                     Prober
}

// Validator is C3.
type Validator struct {
	cfg      Config
	structV  *govalidator.Validate
}

func New(cfg Config) *Validator {
	if cfg.ProhibitedDependencies == nil {
		cfg.ProhibitedDependencies = mapset.NewSet[string]()
	}
	return &Validator{cfg: cfg, structV: govalidator.New()}
}

// Validate runs every independent check and aggregates the result. The
// record is forwarded only if OK() is true (no error-level entry).
func (v *Validator) Validate(dp manifest.DiscoveredPlugin) *capability.ValidationResult {
	result := &capability.ValidationResult{}

	v.checkManifestSchema(dp.Manifest, result)
	v.checkHostCompatibility(dp.Manifest, result)
	v.checkPlatform(dp.Manifest, result)
	v.checkProhibitedDependencies(dp.Manifest, result)
	v.checkDependencyWellFormedness(dp.Manifest, result)

	// Built-in plugins ship in the host binary itself: there is no artifact
	// on disk to stat, fingerprint, probe, or trust-root-check.
	if dp.Source == manifest.SourceConfig {
		if dp.Manifest.EntryPoint == "" {
			result.AddError("entryPoint is required")
		}
		v.logResult(dp.Manifest.ID, result)
		return result
	}

	v.checkArtifact(dp.ArtifactPath, result)
	v.checkEntryPoint(dp, result)
	v.checkTrustedSource(dp.ArtifactPath, result)

	v.logResult(dp.Manifest.ID, result)
	return result
}

func (v *Validator) logResult(pluginID string, result *capability.ValidationResult) {
	if result.OK() {
		return
	}
	logger.Validator().Warn().Str("plugin_id", pluginID).Int("entries", len(result.Entries)).Msg("validation failed")
}

func (v *Validator) checkManifestSchema(m manifest.Manifest, result *capability.ValidationResult) {
	if err := v.structV.Struct(m); err != nil {
		if verrs, ok := err.(govalidator.ValidationErrors); ok {
			for _, fe := range verrs {
				result.AddError(fmt.Sprintf("%s is required", fe.Field()))
			}
		} else {
			result.AddError(err.Error())
		}
	}

	for _, field := range []struct {
		name, value string
	}{
		{"version", m.Version},
		{"minHostVersion", m.MinHostVersion},
		{"maxHostVersion", m.MaxHostVersion},
	} {
		if field.value == "" {
			continue // optional fields may be empty
		}
		if _, err := semver.NewVersion(field.value); err != nil {
			result.AddError(fmt.Sprintf("%s does not parse as a version triple: %s", field.name, field.value))
		}
	}
}

func (v *Validator) checkArtifact(path string, result *capability.ValidationResult) {
	info, err := os.Stat(path)
	if err != nil {
		result.AddError(fmt.Sprintf("artifact not found at %s: %v", path, err))
		return
	}
	if info.Size() == 0 {
		result.AddError(fmt.Sprintf("artifact at %s is empty", path))
		return
	}
	if v.cfg.IntegrityModeEnabled {
		if _, err := fingerprint(path); err != nil {
			result.AddError(fmt.Sprintf("failed to compute artifact fingerprint: %v", err))
		}
	}
}

func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (v *Validator) checkEntryPoint(dp manifest.DiscoveredPlugin, result *capability.ValidationResult) {
	if dp.Manifest.EntryPoint == "" {
		result.AddError("entryPoint is required")
		return
	}
	if v.cfg.Prober == nil {
		result.Entries = append(result.Entries, capability.Entry{
			Severity: capability.SeverityInfo,
			Message:  "entry point resolvability not probed: no loader prober configured",
		})
		return
	}
	ok, reason, err := v.cfg.Prober.Probe(dp.ArtifactPath, dp.Manifest.EntryPoint)
	if err != nil {
		result.AddError(fmt.Sprintf("entry point probe failed: %v", err))
		return
	}
	if !ok {
		result.AddError(fmt.Sprintf("entry point %s not resolvable: %s", dp.Manifest.EntryPoint, reason))
	}
}

func (v *Validator) checkHostCompatibility(m manifest.Manifest, result *capability.ValidationResult) {
	if v.cfg.HostVersion == "" {
		return
	}
	host, err := semver.NewVersion(v.cfg.HostVersion)
	if err != nil {
		return
	}
	if m.MinHostVersion != "" {
		if min, err := semver.NewVersion(m.MinHostVersion); err == nil && host.LessThan(min) {
			result.AddError(fmt.Sprintf("host version %s is below minHostVersion %s", v.cfg.HostVersion, m.MinHostVersion))
		}
	}
	if m.MaxHostVersion != "" {
		if max, err := semver.NewVersion(m.MaxHostVersion); err == nil && host.GreaterThan(max) {
			result.AddError(fmt.Sprintf("host version %s is above maxHostVersion %s", v.cfg.HostVersion, m.MaxHostVersion))
		}
	}
}

func (v *Validator) checkPlatform(m manifest.Manifest, result *capability.ValidationResult) {
	if len(m.SupportedPlatforms) == 0 {
		return // empty = all platforms supported
	}
	if v.cfg.CurrentPlatform == "" {
		return
	}
	platforms := mapset.NewSet(m.SupportedPlatforms...)
	if !platforms.Contains(v.cfg.CurrentPlatform) {
		result.AddError(fmt.Sprintf("current platform %s not in supportedPlatforms %v", v.cfg.CurrentPlatform, m.SupportedPlatforms))
	}
}

func (v *Validator) checkProhibitedDependencies(m manifest.Manifest, result *capability.ValidationResult) {
	if v.cfg.ProhibitedDependencies.Cardinality() == 0 {
		return
	}
	declared := mapset.NewSet(m.RuntimeDependencies...)
	intersection := declared.Intersect(v.cfg.ProhibitedDependencies)
	if intersection.Cardinality() > 0 {
		result.AddError(fmt.Sprintf("declares prohibited dependencies: %v", intersection.ToSlice()))
	}
}

func (v *Validator) checkDependencyWellFormedness(m manifest.Manifest, result *capability.ValidationResult) {
	seen := make(map[string]bool)
	for _, dep := range m.Dependencies {
		if strings.TrimSpace(dep.ID) == "" {
			result.AddError("dependency with empty id")
			continue
		}
		if seen[dep.ID] {
			result.AddWarning(fmt.Sprintf("duplicate dependency declaration for %s", dep.ID))
		}
		seen[dep.ID] = true
		if dep.MinVersion != "" {
			if _, err := semver.NewConstraint(dep.MinVersion); err != nil {
				result.AddError(fmt.Sprintf("dependency %s minVersion does not parse: %s", dep.ID, dep.MinVersion))
			}
		}
		if dep.MaxVersion != "" {
			if _, err := semver.NewConstraint(dep.MaxVersion); err != nil {
				result.AddError(fmt.Sprintf("dependency %s maxVersion does not parse: %s", dep.ID, dep.MaxVersion))
			}
		}
	}
}

func (v *Validator) checkTrustedSource(artifactPath string, result *capability.ValidationResult) {
	if !v.cfg.TrustedSourcePolicyEnabled {
		return
	}
	for _, root := range v.cfg.TrustedRoots {
		if strings.HasPrefix(artifactPath, root) {
			return
		}
	}
	result.AddError(fmt.Sprintf("artifact path %s is not under a trusted root", artifactPath))
}
