// Package ledger provides the file-backed sync ledger: a durable,
// crash-recoverable record of which files under a destination directory
// have been confirmed present off-site.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"backhaul/internal/core"
)

// image is the on-disk representation of a ledger. The checksum covers the
// canonical encoding of the entries so that a torn or tampered image is
// detected at load time rather than silently rebuilt.
type image struct {
	Entries  []entry `json:"entries"`
	Checksum string  `json:"checksum"`
}

type entry struct {
	Path        string           `json:"path"`
	Fingerprint string           `json:"fingerprint"`
	Status      core.EntryStatus `json:"status"`
	RecordedAt  string           `json:"recorded_at"`
}

// FileLedger implements core.Ledger with atomic whole-file replacement:
// every mutation writes a complete new image to a temporary path, flushes it
// durably, and renames it over the old one. Readers always observe either
// the pre-update or the fully-updated ledger.
//
// FileLedger is safe for concurrent use; mutations serialize on an internal
// mutex, which is what allows parallel sync pushes to share one ledger.
type FileLedger struct {
	path  string
	clock core.Clock

	mu      sync.Mutex
	entries map[string]core.LedgerEntry
}

// Open loads the ledger at path, creating an empty one if no file exists.
// A ledger that fails integrity validation returns an error wrapping
// core.ErrLedgerCorrupt; it is never silently rebuilt and requires an
// explicit operator reset (by removing the file) to recover.
func Open(path string, clock core.Clock) (*FileLedger, error) {
	l := &FileLedger{
		path:    path,
		clock:   clock,
		entries: make(map[string]core.LedgerEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var img image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrLedgerCorrupt, path, err)
	}
	if got := checksumEntries(img.Entries); got != img.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", core.ErrLedgerCorrupt, path)
	}

	for _, e := range img.Entries {
		recorded, err := parseTime(e.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %s: %v", core.ErrLedgerCorrupt, path, e.Path, err)
		}
		if e.Status != core.StatusPending && e.Status != core.StatusSynced {
			return nil, fmt.Errorf("%w: %s: entry %s: invalid status %q", core.ErrLedgerCorrupt, path, e.Path, e.Status)
		}
		l.entries[e.Path] = core.LedgerEntry{
			Path:        e.Path,
			Fingerprint: e.Fingerprint,
			Status:      e.Status,
			RecordedAt:  recorded,
		}
	}

	return l, nil
}

// MarkPending idempotently upserts the given files as pending. Entries
// already synced with an identical fingerprint are left untouched so
// unchanged files are not re-transferred.
func (l *FileLedger) MarkPending(files []core.FileState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	now := l.clock.Now().UTC()
	for _, f := range files {
		cur, ok := l.entries[f.Path]
		if ok && cur.Fingerprint == f.Fingerprint {
			// Same content already tracked; whether pending or synced,
			// there is nothing new to record.
			continue
		}
		l.entries[f.Path] = core.LedgerEntry{
			Path:        f.Path,
			Fingerprint: f.Fingerprint,
			Status:      core.StatusPending,
			RecordedAt:  now,
		}
		changed = true
	}

	if !changed {
		return nil
	}
	return l.persistLocked()
}

// MarkSynced transitions the entry for path to synced, provided fingerprint
// still matches. A confirmation for a fingerprint that is no longer current
// fails wrapping core.ErrStaleConfirmation; a newer push supersedes it.
func (l *FileLedger) MarkSynced(path, fingerprint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.entries[path]
	if !ok {
		return fmt.Errorf("%w: no ledger entry for %s", core.ErrStaleConfirmation, path)
	}
	if cur.Fingerprint != fingerprint {
		return fmt.Errorf("%w: %s: confirmed %s but ledger holds %s", core.ErrStaleConfirmation, path, fingerprint, cur.Fingerprint)
	}
	if cur.Status == core.StatusSynced {
		return nil
	}

	cur.Status = core.StatusSynced
	cur.RecordedAt = l.clock.Now().UTC()
	l.entries[path] = cur
	return l.persistLocked()
}

// Pending returns all unsynced entries, sorted by path.
func (l *FileLedger) Pending() ([]core.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []core.LedgerEntry
	for _, e := range l.entries {
		if e.Status == core.StatusPending {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Entries returns every entry, sorted by path.
func (l *FileLedger) Entries() ([]core.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]core.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Reset clears the ledger. It fails wrapping core.ErrPendingEntriesExist
// while any entry is still pending.
func (l *FileLedger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.Status == core.StatusPending {
			return fmt.Errorf("%w: %s", core.ErrPendingEntriesExist, e.Path)
		}
	}

	l.entries = make(map[string]core.LedgerEntry)
	return l.persistLocked()
}

// persistLocked writes a complete new ledger image and atomically swaps it
// in: temp file in the same directory, fsync, rename over the old image,
// fsync the directory. Callers must hold l.mu.
func (l *FileLedger) persistLocked() error {
	img := image{Entries: make([]entry, 0, len(l.entries))}
	for _, e := range l.entries {
		img.Entries = append(img.Entries, entry{
			Path:        e.Path,
			Fingerprint: e.Fingerprint,
			Status:      e.Status,
			RecordedAt:  formatTime(e.RecordedAt),
		})
	}
	sort.Slice(img.Entries, func(i, j int) bool { return img.Entries[i].Path < img.Entries[j].Path })
	img.Checksum = checksumEntries(img.Entries)

	data, err := json.MarshalIndent(&img, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing ledger image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	success = true

	// Flush the rename itself so the swap survives a power loss.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	return nil
}

// checksumEntries hashes the canonical encoding of the sorted entries.
func checksumEntries(entries []entry) string {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, e := range sorted {
		enc.Encode(e)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortEntries(entries []core.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return t, nil
}

// Compile-time check that FileLedger implements core.Ledger.
var _ core.Ledger = (*FileLedger)(nil)
