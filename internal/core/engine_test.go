package core_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"backhaul/internal/core"
	"backhaul/internal/ledger"
	"backhaul/internal/remote"
	"backhaul/internal/testutil"
)

func newSyncFixture(t *testing.T, files map[string]string) (*core.Target, *ledger.FileLedger) {
	t.Helper()

	dest := t.TempDir()
	states, err := testutil.WriteFiles(dest, files)
	if err != nil {
		t.Fatal(err)
	}

	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.json"), testutil.FixedClock())
	if err != nil {
		t.Fatal(err)
	}
	if err := led.MarkPending(states); err != nil {
		t.Fatal(err)
	}

	target := &core.Target{Name: "docs", Kind: core.KindIncrementalDelta, DestinationPath: dest}
	return target, led
}

func TestSyncEngine_DrainsPending(t *testing.T) {
	target, led := newSyncFixture(t, map[string]string{
		"2024-01-15T10:30:00/backup.tar":                     "full bytes",
		"rdiff-backup-data/increments/backup.tar.2024.diff":  "delta bytes",
		"rdiff-backup-data/current_mirror.2024-01-15.data":   "mirror marker",
	})

	mem := remote.NewMemoryRemote()
	engine := core.NewSyncEngine(mem, core.NewNopLogger(), 4)

	report, err := engine.Sync(context.Background(), target, led)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !report.Complete() || report.Synced != 3 {
		t.Fatalf("report = %+v, want 3 synced and no failures", report)
	}

	if got, ok := mem.Object("docs/2024-01-15T10:30:00/backup.tar"); !ok || string(got) != "full bytes" {
		t.Errorf("remote object missing or wrong: %q ok=%v", got, ok)
	}
	if mem.Len() != 3 {
		t.Errorf("remote objects = %d, want 3", mem.Len())
	}

	pending, _ := led.Pending()
	if len(pending) != 0 {
		t.Errorf("pending after sync = %d, want 0", len(pending))
	}
}

func TestSyncEngine_EmptyLedgerIsNoop(t *testing.T) {
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.json"), testutil.FixedClock())
	if err != nil {
		t.Fatal(err)
	}

	mem := remote.NewMemoryRemote()
	engine := core.NewSyncEngine(mem, core.NewNopLogger(), 2)

	report, err := engine.Sync(context.Background(), &core.Target{Name: "docs"}, led)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Synced != 0 || mem.Len() != 0 {
		t.Errorf("no-op sync touched the remote: %+v", report)
	}
}

func TestSyncEngine_PartialFailureKeepsEntryPending(t *testing.T) {
	target, led := newSyncFixture(t, map[string]string{
		"a.tar": "aaa",
		"b.tar": "bbb",
	})

	mem := remote.NewMemoryRemote()
	failing := &testutil.FailKeyRemote{Inner: mem, Keys: map[string]bool{"docs/b.tar": true}}
	engine := core.NewSyncEngine(failing, core.NewNopLogger(), 2)

	report, err := engine.Sync(context.Background(), target, led)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Synced != 1 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v, want 1 synced and 1 failure", report)
	}
	if report.Failures[0].Path != "b.tar" {
		t.Errorf("failed path = %s, want b.tar", report.Failures[0].Path)
	}

	pending, _ := led.Pending()
	if len(pending) != 1 || pending[0].Path != "b.tar" {
		t.Fatalf("pending = %+v, want only b.tar", pending)
	}

	// A later invocation against a recovered store drains the remainder.
	engine = core.NewSyncEngine(mem, core.NewNopLogger(), 2)
	report, err = engine.Sync(context.Background(), target, led)
	if err != nil {
		t.Fatalf("retry Sync() error = %v", err)
	}
	if report.Synced != 1 || !report.Complete() {
		t.Fatalf("retry report = %+v, want 1 synced", report)
	}
	pending, _ = led.Pending()
	if len(pending) != 0 {
		t.Errorf("pending after retry = %d, want 0", len(pending))
	}
}

// An interrupted push leaves its entry pending; retrying converges to
// exactly one stored copy because only a confirmed put marks the entry
// synced and synced entries are never re-pushed.
func TestSyncEngine_InterruptedPushConverges(t *testing.T) {
	target, led := newSyncFixture(t, map[string]string{"backup.tar": "payload"})

	mem := remote.NewMemoryRemote()
	flaky := &testutil.FlakyRemote{Inner: mem, FailFirst: 1}
	engine := core.NewSyncEngine(flaky, core.NewNopLogger(), 1)

	report, err := engine.Sync(context.Background(), target, led)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("report = %+v, want the first push to fail", report)
	}

	for i := 0; i < 3; i++ {
		report, err = engine.Sync(context.Background(), target, led)
		if err != nil {
			t.Fatalf("retry %d error = %v", i, err)
		}
	}

	pending, _ := led.Pending()
	if len(pending) != 0 {
		t.Fatalf("pending after retries = %d, want 0", len(pending))
	}
	if got := mem.PutCount("docs/backup.tar"); got != 1 {
		t.Errorf("remote stored %d copies, want exactly 1", got)
	}
	if flaky.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2 (one failure, one success, then no-ops)", flaky.Attempts())
	}
}

// When the file changes on disk after enumeration, the push carries the new
// bytes but its confirmation no longer matches the recorded fingerprint.
// The entry stays pending instead of the new content being silently marked
// synced.
func TestSyncEngine_SupersededConfirmationIsStale(t *testing.T) {
	target, led := newSyncFixture(t, map[string]string{"backup.tar": "old bytes"})

	full := filepath.Join(target.DestinationPath, "backup.tar")
	if err := os.WriteFile(full, []byte("new bytes!"), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := remote.NewMemoryRemote()
	engine := core.NewSyncEngine(mem, core.NewNopLogger(), 1)

	report, err := engine.Sync(context.Background(), target, led)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Stale != 1 || report.Synced != 0 || len(report.Failures) != 0 {
		t.Fatalf("report = %+v, want exactly one stale confirmation", report)
	}

	pending, _ := led.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1 (stale confirmation must not confirm)", len(pending))
	}
	if pending[0].Fingerprint != testutil.SHA256Hex([]byte("old bytes")) {
		t.Errorf("ledger fingerprint changed on stale confirmation")
	}
}

func TestRemoteKey(t *testing.T) {
	if got := core.RemoteKey("docs", "2024/backup.tar"); got != "docs/2024/backup.tar" {
		t.Errorf("RemoteKey() = %q", got)
	}
	if got := core.RemoteKey("db/appdb", "appdb.dump"); got != "db/appdb/appdb.dump" {
		t.Errorf("RemoteKey() = %q", got)
	}
}
