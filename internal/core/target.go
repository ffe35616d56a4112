package core

import (
	"os"
	"time"
)

// TargetKind selects the versioning strategy for a target.
type TargetKind string

const (
	// KindArchive stores each changed artifact as a self-contained full
	// backup. No incremental chain exists for these targets.
	KindArchive TargetKind = "archive"

	// KindIncrementalDelta stores versions through the external
	// incremental-backup tool, as chains of deltas rooted at a full version.
	KindIncrementalDelta TargetKind = "incremental-delta"
)

// Target is one configured source-to-destination backup relationship.
// It is resolved from configuration at process start and read-only for the
// duration of a run.
type Target struct {
	Name string
	Kind TargetKind

	// SourcePath is the filesystem subtree to back up. For database targets
	// it holds the database name instead ("global" for cluster-wide dumps).
	SourcePath      string
	DestinationPath string

	// Chain policy for incremental-delta targets.
	MaxIncrementalCount int
	MaxIncrementalSpan  time.Duration

	// Excludes are patterns passed through to the archiving tool.
	Excludes []string
}

// Snapshot is the artifact produced for one run: a file on local disk plus
// its content fingerprint. It is ephemeral; the caller owns cleanup.
type Snapshot struct {
	// Path is the temporary artifact file on local disk.
	Path string

	// Name is the stable basename the artifact keeps inside the version
	// store (e.g. "backup.tar", "app.dump"). The incremental tool diffs
	// against the previous version by this name, so it must not vary
	// between runs of the same target.
	Name string

	Fingerprint string
	Size        int64
}

// Remove deletes the artifact file from disk.
func (s *Snapshot) Remove() error {
	return os.Remove(s.Path)
}

// Method is the backup method chosen for a run.
type Method string

const (
	MethodFull        Method = "full"
	MethodIncremental Method = "incremental"
)

// Version is one committed backup version. Versions form an append-only
// chain per target: a run of incrementals roots at exactly one full version.
type Version struct {
	TargetName  string
	Sequence    int64
	Method      Method
	Fingerprint string
	CreatedAt   time.Time
}

// FileState describes one file under a target's destination directory,
// identified by content fingerprint. Paths are relative to the destination.
type FileState struct {
	Path        string
	Fingerprint string
	Size        int64
}

// EntryStatus is the transfer state of a ledger entry. There is exactly one
// legal forward transition: pending to synced.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSynced  EntryStatus = "synced"
)

// LedgerEntry records the off-site transfer state of one file under a
// target's destination directory, uniquely keyed by Path.
type LedgerEntry struct {
	Path        string
	Fingerprint string
	Status      EntryStatus
	RecordedAt  time.Time
}
