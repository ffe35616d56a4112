package core

import (
	"context"
	"io"
)

// Remote is the off-site object store. A nil error from Put is the sole
// confirmation signal used to mark a ledger entry synced; store-reported
// timestamps are never consulted for identity or change detection.
type Remote interface {
	// Put stores size bytes from r under key and returns only after the
	// store has acknowledged receipt.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Validate verifies that the remote is reachable and writable.
	Validate(ctx context.Context) error
}
