package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"backhaul/internal/core"
)

// FileSystemRemote is a directory-backed implementation of core.Remote,
// for local or mounted off-site storage. Objects land under
// <root>/<key>; writes are atomic (temp file + rename), so a crash mid-put
// never leaves a partial object visible.
type FileSystemRemote struct {
	root string
}

// NewFileSystemRemote creates a remote rooted at the given directory.
func NewFileSystemRemote(root string) (*FileSystemRemote, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create remote root: %w", err)
	}
	return &FileSystemRemote{root: root}, nil
}

// Put stores size bytes from r under key.
func (v *FileSystemRemote) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := filepath.Join(v.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Validate verifies the remote root exists and is a writable directory.
func (v *FileSystemRemote) Validate(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("remote root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("remote root is not a directory: %s", v.root)
	}

	probe, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("remote root not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// Compile-time check that FileSystemRemote implements core.Remote.
var _ core.Remote = (*FileSystemRemote)(nil)
