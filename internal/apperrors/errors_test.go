package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostErrorIsMatchesByKind(t *testing.T) {
	err := NewLoadFailed("plugin-a", "/plugins/a/a.so", errors.New("symbol not found"))
	require.Error(t, err)

	target := &HostError{Kind: LoadFailed}
	assert.True(t, errors.Is(err, target))
	assert.False(t, errors.Is(err, &HostError{Kind: Timeout}))
}

func TestHostErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewInitializationFailed("plugin-b", "Start", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsKindHelper(t *testing.T) {
	assert.True(t, IsKind(NewUnknownPlugin("x"), UnknownPlugin))
	assert.False(t, IsKind(errors.New("plain"), UnknownPlugin))
}

func TestErrorMessageIncludesStructuredFields(t *testing.T) {
	err := NewAccessDenied("plugin-s", "SecretStore", "ModuleOnly for plugin M")
	msg := err.Error()
	assert.Contains(t, msg, "plugin-s")
	assert.Contains(t, msg, "SecretStore")
}
