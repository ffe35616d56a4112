package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SyncEngine pushes pending ledger entries to the remote object store and
// commits each entry as synced only after the store confirms receipt.
//
// Transfer is driven solely by ledger pending-ness. Entries left pending by
// a prior interrupted invocation are retried exactly as if newly marked;
// there is no separate resume path.
type SyncEngine struct {
	remote  Remote
	logger  Logger
	workers int
}

// NewSyncEngine creates a SyncEngine. workers bounds the number of parallel
// pushes; values below 1 are treated as 1.
func NewSyncEngine(remote Remote, logger Logger, workers int) *SyncEngine {
	if workers < 1 {
		workers = 1
	}
	return &SyncEngine{remote: remote, logger: logger, workers: workers}
}

// TransferFailure records one failed push. The entry remains pending.
type TransferFailure struct {
	Path string
	Err  error
}

// SyncReport summarizes one sync invocation for a target.
type SyncReport struct {
	Target   string
	Synced   int
	Stale    int
	Failures []TransferFailure
}

// Complete reports whether every attempted entry was confirmed.
func (r *SyncReport) Complete() bool { return len(r.Failures) == 0 }

// Sync drains the target's pending entries. A failed push leaves its entry
// pending and the remaining entries are still attempted; partial progress is
// preserved in the ledger. Ledger mutations from concurrent pushes serialize
// inside the ledger implementation.
func (e *SyncEngine) Sync(ctx context.Context, target *Target, ledger Ledger) (*SyncReport, error) {
	entries, err := ledger.Pending()
	if err != nil {
		return nil, fmt.Errorf("target %s: reading pending entries: %w", target.Name, err)
	}

	report := &SyncReport{Target: target.Name}
	if len(entries) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan LedgerEntry)
	)

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				stale, err := e.push(ctx, target, ledger, entry)
				mu.Lock()
				switch {
				case err != nil:
					report.Failures = append(report.Failures, TransferFailure{Path: entry.Path, Err: err})
				case stale:
					report.Stale++
				default:
					report.Synced++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- entry:
		}
	}
	close(jobs)
	wg.Wait()

	for _, f := range report.Failures {
		e.logger.Error("transfer failed", "target", target.Name, "path", f.Path, "error", f.Err)
	}
	if err := ctx.Err(); err != nil {
		// Anything not yet confirmed stays pending and is retried on the
		// next invocation.
		return report, err
	}
	return report, nil
}

// push transfers one entry and confirms it in the ledger. It returns
// stale=true when the confirmation was superseded by a newer fingerprint
// for the same path, which is a no-op per the ledger contract.
func (e *SyncEngine) push(ctx context.Context, target *Target, ledger Ledger, entry LedgerEntry) (stale bool, err error) {
	full := filepath.Join(target.DestinationPath, filepath.FromSlash(entry.Path))

	f, err := os.Open(full)
	if err != nil {
		return false, fmt.Errorf("%w: opening %s: %v", ErrTransferFailed, entry.Path, err)
	}
	defer f.Close()

	// Fingerprint the exact bytes we are about to push. Confirmation is tied
	// to this fingerprint, not to the one recorded at enumeration time, so a
	// file that changed in between surfaces as a stale confirmation instead
	// of silently marking the new content synced.
	fingerprint, size, err := FingerprintReader(f)
	if err != nil {
		return false, fmt.Errorf("%w: fingerprinting %s: %v", ErrTransferFailed, entry.Path, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return false, fmt.Errorf("%w: rewinding %s: %v", ErrTransferFailed, entry.Path, err)
	}

	key := RemoteKey(target.Name, entry.Path)
	if err := e.remote.Put(ctx, key, f, size); err != nil {
		return false, fmt.Errorf("%w: put %s: %v", ErrTransferFailed, key, err)
	}

	if err := ledger.MarkSynced(entry.Path, fingerprint); err != nil {
		if errors.Is(err, ErrStaleConfirmation) {
			e.logger.Warn("confirmation superseded by newer content", "target", target.Name, "path", entry.Path)
			return true, nil
		}
		return false, fmt.Errorf("confirming %s: %w", entry.Path, err)
	}

	e.logger.Debug("entry synced", "target", target.Name, "path", entry.Path, "fingerprint", fingerprint)
	return false, nil
}

// RemoteKey derives the deterministic object key for a file of a target.
// Target names are unique by configuration, so keys cannot collide across
// targets; a duplicate target name is surfaced as a configuration error at
// registration time, never resolved here.
func RemoteKey(targetName, relPath string) string {
	return targetName + "/" + relPath
}
