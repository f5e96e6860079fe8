// Package targets provides relay sink implementations.
package targets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/relay"
)

// Common constants for sink connections
const (
	// File and directory permissions on remote and local sinks
	PermDir  = 0o755
	PermFile = 0o644

	// Timeout defaults
	DefaultTimeout = 30 * time.Second

	// Default ports
	DefaultFTPPort = 21
	DefaultSSHPort = 22

	// Temporary upload suffix, renamed into place once complete
	TempFileExt = ".tmp"
)

const componentName = "relay.targets"

// getLogger returns the sink logger. It is fetched from the global logger
// each time so it follows the central logger set at startup.
func getLogger(sink string) logger.Logger {
	return logger.Global().Module("relay").With(logger.String("sink", sink))
}

// cleanObjectPath validates a relative, slash separated object path.
func cleanObjectPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", errors.Newf("invalid object path %q", p).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Newf("object path %q escapes the container", p).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	return cleaned, nil
}

// contentVersion is the version token used by sinks without native versions.
func contentVersion(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// notFound wraps relay.ErrObjectNotFound. It is expected control flow, so
// it is not built as an enhanced error.
func notFound(sink, objectPath string) error {
	return fmt.Errorf("%s: %s: %w", sink, objectPath, relay.ErrObjectNotFound)
}

// conflict wraps relay.ErrConflict.
func conflict(sink, objectPath, detail string) error {
	return fmt.Errorf("%s: %s: %s: %w", sink, objectPath, detail, relay.ErrConflict)
}

func isSentinel(err error) bool {
	return errors.Is(err, relay.ErrObjectNotFound) || errors.Is(err, relay.ErrConflict)
}

// sinkError classifies a transport failure.
func sinkError(sink, operation string, err error) error {
	category := errors.CategoryNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		category = errors.CategoryTimeout
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	case errors.Is(err, relay.ErrConflict):
		category = errors.CategoryConflict
	case errors.Is(err, os.ErrPermission):
		category = errors.CategoryFileIO
	}

	return errors.New(fmt.Errorf("%s %s: %w", sink, operation, err)).
		Component(componentName).
		Category(category).
		Context("sink", sink).
		Context("operation", operation).
		Build()
}

// timeoutOr returns d, or DefaultTimeout when d is not positive.
func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
