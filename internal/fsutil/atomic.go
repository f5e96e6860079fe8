// Package fsutil holds small file helpers shared by the event store, the relay
// cursor and the local relay sink.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	DirPermissions  = 0o755
	FilePermissions = 0o644
)

// WriteFileAtomic writes to a temporary file in the target directory, syncs it
// and renames it over targetPath. Readers see either the old or the new file.
func WriteFileAtomic(targetPath string, perm os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := write(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	success = true

	syncDir(dir)
	return nil
}

// WriteBytesAtomic is WriteFileAtomic for an in-memory payload.
func WriteBytesAtomic(targetPath string, data []byte, perm os.FileMode) error {
	return WriteFileAtomic(targetPath, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// syncDir persists the rename; not every platform supports it
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // G304: directory of a path we just wrote
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
