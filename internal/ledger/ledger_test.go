package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"backhaul/internal/core"
	"backhaul/internal/testutil"
)

func testFiles() []core.FileState {
	return []core.FileState{
		{Path: "2024-01-15T10:30:00/backup.tar", Fingerprint: "fp-full", Size: 100},
		{Path: "rdiff-backup-data/increments.dat", Fingerprint: "fp-inc", Size: 10},
	}
}

func TestOpen_MissingFileIsEmptyLedger(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.json"), testutil.FixedClock())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestFileLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	clock := testutil.FixedClock()

	l, err := Open(path, clock)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.MarkPending(testFiles()); err != nil {
		t.Fatalf("MarkPending() error = %v", err)
	}
	if err := l.MarkSynced("rdiff-backup-data/increments.dat", "fp-inc"); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}

	reopened, err := Open(path, clock)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}

	pending, err := reopened.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Path != "2024-01-15T10:30:00/backup.tar" {
		t.Fatalf("pending after reopen = %+v", pending)
	}

	entries, _ := reopened.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries after reopen = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Path == "rdiff-backup-data/increments.dat" && e.Status != core.StatusSynced {
			t.Errorf("synced entry lost its status across reopen: %+v", e)
		}
	}
}

func TestMarkPending_SyncedIdenticalFingerprintIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path, testutil.FixedClock())
	if err != nil {
		t.Fatal(err)
	}

	files := testFiles()
	if err := l.MarkPending(files); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := l.MarkSynced(f.Path, f.Fingerprint); err != nil {
			t.Fatal(err)
		}
	}

	// Re-announcing identical content must not revert synced entries.
	if err := l.MarkPending(files); err != nil {
		t.Fatal(err)
	}
	pending, _ := l.Pending()
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want none (identical content already synced)", pending)
	}
}

func TestMarkPending_NewFingerprintRePends(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.json"), testutil.FixedClock())
	if err != nil {
		t.Fatal(err)
	}

	if err := l.MarkPending([]core.FileState{{Path: "backup.tar", Fingerprint: "v1"}}); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkSynced("backup.tar", "v1"); err != nil {
		t.Fatal(err)
	}

	if err := l.MarkPending([]core.FileState{{Path: "backup.tar", Fingerprint: "v2"}}); err != nil {
		t.Fatal(err)
	}

	pending, _ := l.Pending()
	if len(pending) != 1 || pending[0].Fingerprint != "v2" {
		t.Fatalf("pending = %+v, want backup.tar at v2", pending)
	}
}

func TestMarkSynced(t *testing.T) {
	newLedger := func(t *testing.T) *FileLedger {
		l, err := Open(filepath.Join(t.TempDir(), "ledger.json"), testutil.FixedClock())
		if err != nil {
			t.Fatal(err)
		}
		if err := l.MarkPending([]core.FileState{{Path: "backup.tar", Fingerprint: "v1"}}); err != nil {
			t.Fatal(err)
		}
		return l
	}

	t.Run("transitions pending to synced", func(t *testing.T) {
		l := newLedger(t)
		if err := l.MarkSynced("backup.tar", "v1"); err != nil {
			t.Fatalf("MarkSynced() error = %v", err)
		}
		pending, _ := l.Pending()
		if len(pending) != 0 {
			t.Errorf("pending = %+v, want none", pending)
		}
	})

	t.Run("repeat confirmation is a no-op", func(t *testing.T) {
		l := newLedger(t)
		if err := l.MarkSynced("backup.tar", "v1"); err != nil {
			t.Fatal(err)
		}
		if err := l.MarkSynced("backup.tar", "v1"); err != nil {
			t.Errorf("second MarkSynced() error = %v, want nil", err)
		}
	})

	t.Run("superseded fingerprint is stale", func(t *testing.T) {
		l := newLedger(t)
		err := l.MarkSynced("backup.tar", "v0")
		if !errors.Is(err, core.ErrStaleConfirmation) {
			t.Errorf("MarkSynced() error = %v, want ErrStaleConfirmation", err)
		}
		pending, _ := l.Pending()
		if len(pending) != 1 {
			t.Errorf("stale confirmation mutated the ledger: %+v", pending)
		}
	})

	t.Run("unknown path is stale", func(t *testing.T) {
		l := newLedger(t)
		err := l.MarkSynced("nonexistent.tar", "v1")
		if !errors.Is(err, core.ErrStaleConfirmation) {
			t.Errorf("MarkSynced() error = %v, want ErrStaleConfirmation", err)
		}
	})
}

func TestReset(t *testing.T) {
	t.Run("refused while entries are pending", func(t *testing.T) {
		l, err := Open(filepath.Join(t.TempDir(), "ledger.json"), testutil.FixedClock())
		if err != nil {
			t.Fatal(err)
		}
		if err := l.MarkPending(testFiles()); err != nil {
			t.Fatal(err)
		}

		if err := l.Reset(); !errors.Is(err, core.ErrPendingEntriesExist) {
			t.Fatalf("Reset() error = %v, want ErrPendingEntriesExist", err)
		}
		entries, _ := l.Entries()
		if len(entries) != 2 {
			t.Errorf("refused reset mutated the ledger: %d entries", len(entries))
		}
	})

	t.Run("clears a fully synced ledger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		l, err := Open(path, testutil.FixedClock())
		if err != nil {
			t.Fatal(err)
		}
		files := testFiles()
		if err := l.MarkPending(files); err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			if err := l.MarkSynced(f.Path, f.Fingerprint); err != nil {
				t.Fatal(err)
			}
		}

		if err := l.Reset(); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}

		reopened, err := Open(path, testutil.FixedClock())
		if err != nil {
			t.Fatal(err)
		}
		entries, _ := reopened.Entries()
		if len(entries) != 0 {
			t.Errorf("entries after reset = %d, want 0", len(entries))
		}
	})
}

func TestOpen_CorruptImages(t *testing.T) {
	write := func(t *testing.T, data string) string {
		path := filepath.Join(t.TempDir(), "ledger.json")
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("invalid json", func(t *testing.T) {
		_, err := Open(write(t, "{truncated"), testutil.FixedClock())
		if !errors.Is(err, core.ErrLedgerCorrupt) {
			t.Errorf("Open() error = %v, want ErrLedgerCorrupt", err)
		}
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		// Build a valid image, then flip a fingerprint byte without
		// recomputing the checksum.
		path := filepath.Join(t.TempDir(), "ledger.json")
		l, err := Open(path, testutil.FixedClock())
		if err != nil {
			t.Fatal(err)
		}
		if err := l.MarkPending(testFiles()); err != nil {
			t.Fatal(err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		tampered := strings.Replace(string(data), "fp-full", "fp-evil", 1)
		if tampered == string(data) {
			t.Fatal("test setup: fingerprint not found in image")
		}
		if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err = Open(path, testutil.FixedClock())
		if !errors.Is(err, core.ErrLedgerCorrupt) {
			t.Errorf("Open() error = %v, want ErrLedgerCorrupt", err)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.json")
		l, err := Open(path, testutil.FixedClock())
		if err != nil {
			t.Fatal(err)
		}
		if err := l.MarkPending(testFiles()[:1]); err != nil {
			t.Fatal(err)
		}

		// Corrupt the status while keeping the checksum consistent is not
		// possible from outside, so a status flip must also trip validation.
		data, _ := os.ReadFile(path)
		tampered := strings.Replace(string(data), `"pending"`, `"shipped"`, 1)
		os.WriteFile(path, []byte(tampered), 0o644)

		_, err = Open(path, testutil.FixedClock())
		if !errors.Is(err, core.ErrLedgerCorrupt) {
			t.Errorf("Open() error = %v, want ErrLedgerCorrupt", err)
		}
	})
}

func TestPersist_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "ledger.json"), testutil.FixedClock())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.MarkPending(testFiles()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".ledger-") {
			t.Errorf("temp ledger file left behind: %s", e.Name())
		}
	}
}
