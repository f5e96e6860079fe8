package targets

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/fsutil"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

const sinkLocal = "local"

// LocalSink stores objects as files under <base>/<container>. It is mostly
// useful for a mounted network share or for testing a deployment offline.
type LocalSink struct {
	mu        sync.Mutex
	base      string
	container string
	log       logger.Logger
}

// NewLocalSink creates a directory sink.
func NewLocalSink(base, container string) (*LocalSink, error) {
	if base == "" || container == "" {
		return nil, errors.Newf("local sink requires a base path and a container").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := cleanObjectPath(container); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("operation", "resolve_base_path").
			Build()
	}

	return &LocalSink{
		base:      abs,
		container: container,
		log:       getLogger(sinkLocal),
	}, nil
}

// Name implements relay.Sink.
func (s *LocalSink) Name() string { return sinkLocal }

// Container implements relay.Sink.
func (s *LocalSink) Container() string { return s.container }

func (s *LocalSink) containerDir() string {
	return filepath.Join(s.base, filepath.FromSlash(s.container))
}

func (s *LocalSink) objectFile(objectPath string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.containerDir(), filepath.FromSlash(cleaned)), nil
}

// EnsureContainer creates the container directory when missing.
func (s *LocalSink) EnsureContainer(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dir := s.containerDir()
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return false, nil
	case err == nil:
		return false, sinkError(sinkLocal, "ensure_container", errors.Newf("%s is not a directory", dir).Build())
	case !os.IsNotExist(err):
		return false, sinkError(sinkLocal, "ensure_container", err)
	}

	if err := os.MkdirAll(dir, PermDir); err != nil {
		return false, sinkError(sinkLocal, "ensure_container", err)
	}
	s.log.Debug("created container directory", logger.String("path", dir))
	return true, nil
}

// GetObjectVersion returns the content hash of the stored file.
func (s *LocalSink) GetObjectVersion(ctx context.Context, objectPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file, err := s.objectFile(objectPath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionLocked(file, objectPath)
}

func (s *LocalSink) versionLocked(file, objectPath string) (string, error) {
	data, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return "", notFound(sinkLocal, objectPath)
	}
	if err != nil {
		return "", sinkError(sinkLocal, "get_version", err)
	}
	return contentVersion(data), nil
}

// UpdateObject replaces the file if its content still hashes to version.
func (s *LocalSink) UpdateObject(ctx context.Context, objectPath string, content []byte, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.objectFile(objectPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.versionLocked(file, objectPath)
	if err != nil {
		return err
	}
	if current != version {
		return conflict(sinkLocal, objectPath, "content changed since version lookup")
	}
	if err := fsutil.WriteBytesAtomic(file, content, PermFile); err != nil {
		return sinkError(sinkLocal, "update", err)
	}
	return nil
}

// CreateObject writes a new file. It fails with a conflict if one exists.
func (s *LocalSink) CreateObject(ctx context.Context, objectPath string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.objectFile(objectPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(file); err == nil {
		return conflict(sinkLocal, objectPath, "object already exists")
	}
	if err := fsutil.WriteBytesAtomic(file, content, PermFile); err != nil {
		return sinkError(sinkLocal, "create", err)
	}
	return nil
}

// Close implements relay.Sink.
func (s *LocalSink) Close() error { return nil }
