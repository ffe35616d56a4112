package core

// Ledger is the durable, crash-recoverable record of which files under a
// target's destination directory have been confirmed present off-site.
//
// Pending-ness in the ledger is the only resume state: an interrupted sync
// is resumed by draining Pending() again, with no separate journal. Every
// mutation persists a complete new ledger image atomically, so readers see
// either the pre-update or the fully-updated ledger, never a torn state.
type Ledger interface {
	// MarkPending idempotently upserts entries as pending. An entry already
	// synced with an identical fingerprint is left untouched, avoiding
	// redundant re-transfer of unchanged files.
	MarkPending(entries []FileState) error

	// MarkSynced transitions the matching pending entry to synced. It is a
	// no-op if the entry is already synced with that fingerprint, and fails
	// wrapping ErrStaleConfirmation if the current fingerprint for the path
	// differs.
	MarkSynced(path, fingerprint string) error

	// Pending returns all entries not yet confirmed off-site. This is the
	// recovery surface consulted at process start.
	Pending() ([]LedgerEntry, error)

	// Entries returns every entry in the ledger, pending and synced.
	Entries() ([]LedgerEntry, error)

	// Reset clears the ledger. It fails wrapping ErrPendingEntriesExist
	// unless Pending() is empty.
	Reset() error
}
