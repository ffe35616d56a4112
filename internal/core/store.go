package core

import "context"

// VersionStore commits a new version (full or incremental) into the target's
// destination directory by delegating to the external incremental-backup
// tool. The tool itself detects and discards incomplete versions left by a
// prior crash before writing; this package relies on that but does not
// implement it.
//
// On success Commit returns the set of files now expected to exist under the
// destination directory, with content fingerprints. That enumeration is the
// input to the ledger update. On failure (wrapping ErrCommitFailed) no new
// version exists and prior versions remain usable.
type VersionStore interface {
	Commit(ctx context.Context, target *Target, snapshot *Snapshot, method Method) ([]FileState, error)
}
