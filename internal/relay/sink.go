package relay

import (
	"context"

	"github.com/tphakala/wildwatch-go/internal/errors"
)

// Sink errors recognised by the relay protocol. Implementations wrap them.
var (
	ErrObjectNotFound = errors.NewStd("remote object not found")
	ErrConflict       = errors.NewStd("remote object version conflict")
)

// Sink is a remote container holding named objects. The container name is
// bound at construction. Object paths are slash separated and relative.
type Sink interface {
	// Name identifies the sink kind in logs and metrics.
	Name() string
	// Container returns the bound container name.
	Container() string
	// EnsureContainer resolves the container, creating it when absent.
	EnsureContainer(ctx context.Context) (created bool, err error)
	// GetObjectVersion returns an opaque version of the remote object or an
	// error wrapping ErrObjectNotFound.
	GetObjectVersion(ctx context.Context, path string) (string, error)
	// UpdateObject replaces the object if it is still at version.
	UpdateObject(ctx context.Context, path string, content []byte, version string) error
	// CreateObject creates the object. It fails with ErrConflict when the
	// object already exists and the sink cannot overwrite it.
	CreateObject(ctx context.Context, path string, content []byte) error
	// Close releases connections.
	Close() error
}
