package core

import "context"

// ArtifactProducer materializes a point-in-time snapshot of a target's
// source as a single artifact file on local disk, computing its content
// fingerprint along the way.
//
// Implementations invoke external dump or archive tools. On failure they
// return an error wrapping ErrDumpFailed and leave no artifact behind; on
// success the caller owns cleanup of the returned Snapshot.
type ArtifactProducer interface {
	Produce(ctx context.Context, target *Target) (*Snapshot, error)
}
