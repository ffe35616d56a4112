package core

import "time"

// ChainState summarizes a target's version chain for the method decision.
type ChainState struct {
	// LastFull is the most recent full version, or nil if none exists.
	LastFull *Version

	// IncrementalsSinceFull counts incrementals appended after LastFull.
	IncrementalsSinceFull int
}

// Catalog persists per-target version-chain metadata and run records.
type Catalog interface {
	// LatestVersion returns the most recent version for a target, or nil if
	// the target has no versions yet.
	LatestVersion(targetName string) (*Version, error)

	// ChainState returns the chain summary used by the method selector.
	ChainState(targetName string) (*ChainState, error)

	// AppendVersion records a newly committed version, assigning the next
	// sequence number for the target.
	AppendVersion(targetName string, method Method, fingerprint string, createdAt time.Time) (*Version, error)

	// ListVersions returns all versions for a target, oldest first.
	ListVersions(targetName string) ([]*Version, error)

	// CreateRun records the start of a backup or sync run and returns its ID.
	CreateRun(operation, targetName string) (int64, error)

	// FinishRun marks a run finished with the given status.
	FinishRun(id int64, status string) error

	// Close closes the underlying store.
	Close() error
}
