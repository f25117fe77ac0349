// Package testutil provides testing utilities for strata
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout that is
// cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WriteFile writes the concatenation of parts to name inside a fresh
// temporary directory and returns its path.
func WriteFile(t *testing.T, name string, parts ...[]byte) string {
	t.Helper()
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// RequireErrorType fails the test unless err carries the given type.
func RequireErrorType(t *testing.T, err error, want errors.ErrorType) *errors.Error {
	t.Helper()
	require.Error(t, err)
	var se *errors.Error
	require.True(t, errors.As(err, &se), "expected a structured error, got %T: %v", err, err)
	require.Equal(t, want, se.Type, "unexpected error: %v", err)
	return se
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
