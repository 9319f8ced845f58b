// Package apperrors provides the structured error taxonomy for the plugin
// host: every recoverable failure is a *HostError carrying a machine-readable
// Kind plus the structured context (plugin id, phase, path) needed by callers
// and test oracles, never a flattened string.
package apperrors

import "fmt"

// Kind identifies one of the error categories from the host's error taxonomy.
type Kind string

const (
	ManifestInvalid      Kind = "ManifestInvalid"
	ValidationFailed     Kind = "ValidationFailed"
	LoadFailed           Kind = "LoadFailed"
	InitializationFailed Kind = "InitializationFailed"
	Timeout              Kind = "Timeout"
	AccessDenied         Kind = "AccessDenied"
	AlreadyExists        Kind = "AlreadyExists"
	CircularDependency   Kind = "CircularDependency"
	UnknownPlugin        Kind = "UnknownPlugin"
	DisposalWarning      Kind = "DisposalWarning"
)

// HostError is a structured, recoverable failure. It never represents a
// process-fatal condition; those are reserved for registry corruption and
// are raised as plain panics by the registry itself.
type HostError struct {
	Kind     Kind
	PluginID string
	Phase    string // set for InitializationFailed / Timeout
	Path     string // set for LoadFailed / ManifestInvalid
	Type     string // set for AccessDenied: the requested service type name
	Reason   string
	Cause    error
}

func (e *HostError) Error() string {
	msg := string(e.Kind)
	if e.PluginID != "" {
		msg += fmt.Sprintf(" plugin=%s", e.PluginID)
	}
	if e.Phase != "" {
		msg += fmt.Sprintf(" phase=%s", e.Phase)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" path=%s", e.Path)
	}
	if e.Type != "" {
		msg += fmt.Sprintf(" type=%s", e.Type)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *HostError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperrors.LoadFailed) style checks against a bare Kind.
func (e *HostError) Is(target error) bool {
	other, ok := target.(*HostError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func NewManifestInvalid(path, reason string) *HostError {
	return &HostError{Kind: ManifestInvalid, Path: path, Reason: reason}
}

func NewValidationFailed(pluginID, reason string) *HostError {
	return &HostError{Kind: ValidationFailed, PluginID: pluginID, Reason: reason}
}

func NewLoadFailed(pluginID, path string, cause error) *HostError {
	return &HostError{Kind: LoadFailed, PluginID: pluginID, Path: path, Cause: cause}
}

func NewInitializationFailed(pluginID, phase string, cause error) *HostError {
	return &HostError{Kind: InitializationFailed, PluginID: pluginID, Phase: phase, Cause: cause}
}

func NewTimeout(pluginID, phase string) *HostError {
	return &HostError{Kind: Timeout, PluginID: pluginID, Phase: phase, Reason: "deadline exceeded"}
}

func NewAccessDenied(pluginID, serviceType, reason string) *HostError {
	return &HostError{Kind: AccessDenied, PluginID: pluginID, Type: serviceType, Reason: reason}
}

func NewAlreadyExists(pluginID string) *HostError {
	return &HostError{Kind: AlreadyExists, PluginID: pluginID, Reason: "already present in registry"}
}

func NewCircularDependency(path string) *HostError {
	return &HostError{Kind: CircularDependency, Reason: path}
}

func NewUnknownPlugin(pluginID string) *HostError {
	return &HostError{Kind: UnknownPlugin, PluginID: pluginID}
}

func NewDisposalWarning(pluginID, reason string, cause error) *HostError {
	return &HostError{Kind: DisposalWarning, PluginID: pluginID, Reason: reason, Cause: cause}
}

// IsKind reports whether err is a *HostError of the given kind.
func IsKind(err error, kind Kind) bool {
	he, ok := err.(*HostError)
	if !ok {
		return false
	}
	return he.Kind == kind
}
