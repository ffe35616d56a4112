package core

// Classification is the change detector's verdict for a new snapshot.
type Classification int

const (
	// Identical: the snapshot's content matches the most recent stored
	// version. The run terminates without creating anything.
	Identical Classification = iota

	// Changed: the snapshot differs from the latest version, or no prior
	// version exists.
	Changed
)

// Classify compares a snapshot against the fingerprint recorded for the
// target's most recent version. It is a pure function of content
// fingerprints: file modification times and sizes are never consulted,
// because both are documented to be unreliable across the toolchain
// (the incremental tool loses sub-second mtime precision, and uploads are
// subject to clock skew).
func Classify(snapshot *Snapshot, latest *Version) Classification {
	if latest == nil {
		return Changed
	}
	if latest.Fingerprint == snapshot.Fingerprint {
		return Identical
	}
	return Changed
}
