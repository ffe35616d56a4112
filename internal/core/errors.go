package core

import "errors"

// Error taxonomy for backup and sync runs. Callers match with errors.Is;
// implementations wrap these with target and entry identifiers.
var (
	// ErrDumpFailed: artifact production failed. The run for the target is
	// aborted without touching version or ledger state.
	ErrDumpFailed = errors.New("artifact production failed")

	// ErrCommitFailed: the version write failed. Prior versions remain
	// intact and usable for restore.
	ErrCommitFailed = errors.New("version commit failed")

	// ErrTransferFailed: a single file push failed. The entry stays pending
	// and other entries are still attempted.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrStaleConfirmation: a confirmation arrived for a fingerprint that is
	// no longer current for the path. Treated as a no-op, not a failure; a
	// newer push supersedes it.
	ErrStaleConfirmation = errors.New("stale transfer confirmation")

	// ErrLedgerCorrupt: the on-disk ledger failed integrity validation.
	// Processing halts for the target until an explicit operator reset.
	ErrLedgerCorrupt = errors.New("ledger corrupt")

	// ErrPendingEntriesExist: a ledger reset was refused because unsynced
	// entries remain.
	ErrPendingEntriesExist = errors.New("pending entries exist")
)
