package version

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"backhaul/internal/core"
)

// ArchiveStore implements core.VersionStore for archive-kind targets: every
// version is a self-contained dated copy of the artifact, so there is no
// external incremental tool and no chain to regress after a crash. The
// temp-then-rename write means an interrupted commit leaves at most an
// invisible temp file, never a half-written version.
type ArchiveStore struct {
	clock core.Clock
	owner *core.Owner
}

// NewArchiveStore creates an ArchiveStore. A non-nil owner has every stored
// artifact reassigned after the copy.
func NewArchiveStore(clock core.Clock, owner *core.Owner) *ArchiveStore {
	return &ArchiveStore{clock: clock, owner: owner}
}

// Commit copies the snapshot into the destination under a dated name and
// enumerates the destination. Archive targets only take full versions.
func (s *ArchiveStore) Commit(ctx context.Context, target *core.Target, snapshot *core.Snapshot, method core.Method) ([]core.FileState, error) {
	if method != core.MethodFull {
		return nil, fmt.Errorf("%w: archive target %s cannot take %s versions", core.ErrCommitFailed, target.Name, method)
	}
	if err := os.MkdirAll(target.DestinationPath, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating destination: %v", core.ErrCommitFailed, err)
	}

	destPath, err := s.newArtifactPath(ctx, target.DestinationPath, filepath.Ext(snapshot.Name))
	if err != nil {
		return nil, err
	}

	if err := copyAtomic(snapshot.Path, destPath); err != nil {
		return nil, fmt.Errorf("%w: storing artifact %s: %v", core.ErrCommitFailed, destPath, err)
	}
	if err := s.owner.Chown(destPath); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCommitFailed, err)
	}

	return enumerate(target.DestinationPath)
}

// newArtifactPath picks a fresh dated artifact name, waiting out
// same-second collisions like the chain-directory case.
func (s *ArchiveStore) newArtifactPath(ctx context.Context, dest, ext string) (string, error) {
	for {
		name := s.clock.Now().UTC().Format(stampLayout) + ext
		path := filepath.Join(dest, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("%w: probing artifact name: %v", core.ErrCommitFailed, err)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", core.ErrCommitFailed, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// copyAtomic writes src to dst via a temp file in the same directory and a
// rename, so a crash mid-copy never leaves a partial artifact visible.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}

// Compile-time check that ArchiveStore implements core.VersionStore.
var _ core.VersionStore = (*ArchiveStore)(nil)
