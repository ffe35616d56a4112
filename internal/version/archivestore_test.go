package version

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"backhaul/internal/core"
	"backhaul/internal/testutil"
)

func tempArtifact(t *testing.T, name, content string) *core.Snapshot {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &core.Snapshot{
		Path:        path,
		Name:        name,
		Fingerprint: testutil.SHA256Hex([]byte(content)),
		Size:        int64(len(content)),
	}
}

func TestArchiveStore_Commit(t *testing.T) {
	clock := testutil.FixedClock()
	store := NewArchiveStore(clock, nil)
	dest := filepath.Join(t.TempDir(), "archives")
	target := &core.Target{Name: "docs", Kind: core.KindArchive, DestinationPath: dest}

	snapshot := tempArtifact(t, "backup.tar", "archive bytes v1")
	files, err := store.Commit(context.Background(), target, snapshot, core.MethodFull)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	wantName := clock.Now().UTC().Format(stampLayout) + ".tar"
	data, err := os.ReadFile(filepath.Join(dest, wantName))
	if err != nil {
		t.Fatalf("dated artifact missing: %v", err)
	}
	if string(data) != "archive bytes v1" {
		t.Errorf("artifact content = %q", data)
	}

	if len(files) != 1 || files[0].Path != wantName {
		t.Fatalf("enumerated files = %+v, want just %s", files, wantName)
	}
	if files[0].Fingerprint != testutil.SHA256Hex([]byte("archive bytes v1")) {
		t.Errorf("fingerprint mismatch")
	}
}

func TestArchiveStore_SecondCommitKeepsFirst(t *testing.T) {
	clock := testutil.FixedClock()
	store := NewArchiveStore(clock, nil)
	dest := filepath.Join(t.TempDir(), "archives")
	target := &core.Target{Name: "docs", Kind: core.KindArchive, DestinationPath: dest}

	if _, err := store.Commit(context.Background(), target, tempArtifact(t, "backup.tar", "v1"), core.MethodFull); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	files, err := store.Commit(context.Background(), target, tempArtifact(t, "backup.tar", "v2"), core.MethodFull)
	if err != nil {
		t.Fatal(err)
	}

	if len(files) != 2 {
		t.Fatalf("enumerated files = %+v, want both versions", files)
	}
}

func TestArchiveStore_RejectsIncremental(t *testing.T) {
	store := NewArchiveStore(testutil.FixedClock(), nil)
	target := &core.Target{Name: "docs", Kind: core.KindArchive, DestinationPath: t.TempDir()}

	_, err := store.Commit(context.Background(), target, tempArtifact(t, "backup.tar", "v1"), core.MethodIncremental)
	if !errors.Is(err, core.ErrCommitFailed) {
		t.Errorf("Commit(incremental) error = %v, want ErrCommitFailed", err)
	}
}

func TestArchiveStore_SameSecondCommitHonorsCancellation(t *testing.T) {
	clock := testutil.FixedClock()
	store := NewArchiveStore(clock, nil)
	dest := filepath.Join(t.TempDir(), "archives")
	target := &core.Target{Name: "docs", Kind: core.KindArchive, DestinationPath: dest}

	if _, err := store.Commit(context.Background(), target, tempArtifact(t, "backup.tar", "v1"), core.MethodFull); err != nil {
		t.Fatal(err)
	}

	// The clock has not advanced, so the dated name is taken and the store
	// waits for the next second. Cancellation must break the wait.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Commit(ctx, target, tempArtifact(t, "backup.tar", "v2"), core.MethodFull)
	if !errors.Is(err, core.ErrCommitFailed) {
		t.Errorf("Commit() error = %v, want ErrCommitFailed", err)
	}
}

func TestArchiveStore_CommitReassignsOwnership(t *testing.T) {
	owner := &core.Owner{UID: os.Getuid(), GID: os.Getgid()}
	clock := testutil.FixedClock()
	store := NewArchiveStore(clock, owner)
	dest := filepath.Join(t.TempDir(), "archives")
	target := &core.Target{Name: "docs", Kind: core.KindArchive, DestinationPath: dest}

	if _, err := store.Commit(context.Background(), target, tempArtifact(t, "backup.tar", "v1"), core.MethodFull); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	artifact := filepath.Join(dest, clock.Now().UTC().Format(stampLayout)+".tar")
	info, err := os.Stat(artifact)
	if err != nil {
		t.Fatal(err)
	}
	st := info.Sys().(*syscall.Stat_t)
	if int(st.Uid) != owner.UID || int(st.Gid) != owner.GID {
		t.Errorf("ownership = %d:%d, want %d:%d", st.Uid, st.Gid, owner.UID, owner.GID)
	}
}
