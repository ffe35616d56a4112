// Package version commits snapshots into a target's destination directory,
// either through the external rdiff-backup tool (incremental-delta targets)
// or as self-contained dated artifacts (archive targets).
package version

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"backhaul/internal/core"
)

// stampLayout names chain directories and archive artifacts after the
// second-resolution UTC time of the commit.
const stampLayout = "2006-01-02T15:04:05"

var stampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// RdiffStore implements core.VersionStore by delegating to rdiff-backup.
// Each full version opens a new dated chain directory under the target's
// destination; incrementals extend the most recent chain. On invocation the
// tool itself detects and regresses an incomplete version left by a prior
// crash before writing the new one; this store relies on that behavior and
// does not reimplement it.
type RdiffStore struct {
	rdiffPath  string
	scratchDir string
	clock      core.Clock
	owner      *core.Owner
}

// NewRdiffStore creates an RdiffStore using the rdiff-backup binary found
// on PATH. scratchDir is the per-target staging directory the artifact is
// placed in before the tool runs. A non-nil owner has the destination tree
// reassigned after every successful commit.
func NewRdiffStore(scratchDir string, clock core.Clock, owner *core.Owner) *RdiffStore {
	return &RdiffStore{rdiffPath: "rdiff-backup", scratchDir: scratchDir, clock: clock, owner: owner}
}

// NewRdiffStoreWithPath creates an RdiffStore with an explicit binary path,
// for tests.
func NewRdiffStoreWithPath(rdiffPath, scratchDir string, clock core.Clock) *RdiffStore {
	return &RdiffStore{rdiffPath: rdiffPath, scratchDir: scratchDir, clock: clock}
}

// Commit stages the snapshot and runs rdiff-backup in full or incremental
// mode, then enumerates the destination. On failure no new version is
// recorded and prior versions remain intact.
func (s *RdiffStore) Commit(ctx context.Context, target *core.Target, snapshot *core.Snapshot, method core.Method) ([]core.FileState, error) {
	if err := s.stage(snapshot); err != nil {
		return nil, err
	}

	var chainDir string
	var openedChain bool
	switch method {
	case core.MethodFull:
		dir, err := s.newChainDir(ctx, target.DestinationPath)
		if err != nil {
			return nil, err
		}
		chainDir = dir
		openedChain = true
	case core.MethodIncremental:
		dir, err := latestChainDir(target.DestinationPath)
		if err != nil {
			return nil, err
		}
		if dir == "" {
			return nil, fmt.Errorf("%w: no chain to extend under %s", core.ErrCommitFailed, target.DestinationPath)
		}
		chainDir = dir
	default:
		return nil, fmt.Errorf("%w: unknown method %q", core.ErrCommitFailed, method)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.rdiffPath, s.scratchDir, chainDir)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// A chain directory opened for this commit holds no version yet;
		// remove it rather than strand an empty stamp in the destination.
		if openedChain {
			os.RemoveAll(chainDir)
		}
		return nil, fmt.Errorf("%w: rdiff-backup %s: %v: %s", core.ErrCommitFailed, chainDir, err, stderr.String())
	}

	if err := s.owner.ChownTree(target.DestinationPath); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCommitFailed, err)
	}

	return enumerate(target.DestinationPath)
}

// stage copies the artifact into the scratch directory under its stable
// name and freshens its mtime. The incremental tool short-circuits on
// second-resolution mtimes before examining content; Commit only runs for
// content already classified as changed, so the touch forces the tool to
// look at the bytes.
func (s *RdiffStore) stage(snapshot *core.Snapshot) error {
	if err := os.MkdirAll(s.scratchDir, 0o700); err != nil {
		return fmt.Errorf("%w: creating scratch dir: %v", core.ErrCommitFailed, err)
	}

	staged := filepath.Join(s.scratchDir, snapshot.Name)
	src, err := os.Open(snapshot.Path)
	if err != nil {
		return fmt.Errorf("%w: opening artifact: %v", core.ErrCommitFailed, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: staging artifact: %v", core.ErrCommitFailed, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: copying artifact: %v", core.ErrCommitFailed, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: closing staged artifact: %v", core.ErrCommitFailed, err)
	}

	now := s.clock.Now()
	if err := os.Chtimes(staged, now, now); err != nil {
		return fmt.Errorf("%w: touching staged artifact: %v", core.ErrCommitFailed, err)
	}
	return nil
}

// newChainDir creates a fresh dated chain directory. Two commits cannot
// share a second-resolution stamp, so it waits out the same-second case
// instead of failing.
func (s *RdiffStore) newChainDir(ctx context.Context, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return "", fmt.Errorf("%w: creating destination: %v", core.ErrCommitFailed, err)
	}

	for {
		name := s.clock.Now().UTC().Format(stampLayout)
		dir := filepath.Join(dest, name)
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("%w: creating chain dir: %v", core.ErrCommitFailed, err)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", core.ErrCommitFailed, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// latestChainDir returns the most recent dated chain directory under dest,
// or "" if none exists. Stamp names sort chronologically.
func latestChainDir(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: reading destination: %v", core.ErrCommitFailed, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && stampRe.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dest, names[len(names)-1]), nil
}

// Compile-time check that RdiffStore implements core.VersionStore.
var _ core.VersionStore = (*RdiffStore)(nil)
