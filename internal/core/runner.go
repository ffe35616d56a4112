package core

import (
	"context"
	"fmt"
)

// Runner coordinates one backup run for a target: produce an artifact,
// classify it against the latest stored version, choose the backup method,
// commit the new version, and mark the resulting files pending in the
// ledger.
type Runner struct {
	producer ArtifactProducer
	store    VersionStore
	catalog  Catalog
	ledger   Ledger
	activity ActivityLog
	logger   Logger
	clock    Clock
}

// NewRunner creates a Runner with the provided dependencies.
func NewRunner(producer ArtifactProducer, store VersionStore, catalog Catalog, ledger Ledger, activity ActivityLog, logger Logger, clock Clock) *Runner {
	return &Runner{
		producer: producer,
		store:    store,
		catalog:  catalog,
		ledger:   ledger,
		activity: activity,
		logger:   logger,
		clock:    clock,
	}
}

// RunResult reports the outcome of a backup run.
type RunResult struct {
	// Skipped is true when the new artifact was identical to the latest
	// stored version and nothing was created.
	Skipped bool

	// Version is the committed version; nil when Skipped.
	Version *Version

	// FilesPending is the number of files marked pending in the ledger.
	FilesPending int
}

// Run executes one backup run for the target. On any failure the last good
// state is left untouched: a dump failure aborts before any version or
// ledger mutation, and a commit failure leaves prior versions intact.
func (r *Runner) Run(ctx context.Context, target *Target) (*RunResult, error) {
	snapshot, err := r.producer.Produce(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("target %s: producing artifact: %w", target.Name, err)
	}
	defer func() {
		if err := snapshot.Remove(); err != nil {
			r.logger.Warn("removing artifact", "target", target.Name, "path", snapshot.Path, "error", err)
		}
	}()

	latest, err := r.catalog.LatestVersion(target.Name)
	if err != nil {
		return nil, fmt.Errorf("target %s: loading latest version: %w", target.Name, err)
	}

	if Classify(snapshot, latest) == Identical {
		line := "no change in the data to be backed up: skipping creation of new backup"
		if err := r.activity.Append(line); err != nil {
			return nil, fmt.Errorf("target %s: appending activity log: %w", target.Name, err)
		}
		r.logger.Info("snapshot identical to latest version, skipping", "target", target.Name, "fingerprint", snapshot.Fingerprint)
		return &RunResult{Skipped: true}, nil
	}

	chain, err := r.catalog.ChainState(target.Name)
	if err != nil {
		return nil, fmt.Errorf("target %s: loading chain state: %w", target.Name, err)
	}

	now := r.clock.Now().UTC()
	method := DecideMethod(target, chain, now)

	files, err := r.store.Commit(ctx, target, snapshot, method)
	if err != nil {
		return nil, fmt.Errorf("target %s: committing %s version: %w", target.Name, method, err)
	}

	version, err := r.catalog.AppendVersion(target.Name, method, snapshot.Fingerprint, now)
	if err != nil {
		return nil, fmt.Errorf("target %s: recording version: %w", target.Name, err)
	}

	if err := r.ledger.MarkPending(files); err != nil {
		return nil, fmt.Errorf("target %s: marking files pending: %w", target.Name, err)
	}

	line := fmt.Sprintf("created %s backup v%d (%d files to sync)", method, version.Sequence, len(files))
	if err := r.activity.Append(line); err != nil {
		return nil, fmt.Errorf("target %s: appending activity log: %w", target.Name, err)
	}

	r.logger.Info("backup committed",
		"target", target.Name,
		"method", method,
		"sequence", version.Sequence,
		"fingerprint", snapshot.Fingerprint,
		"files", len(files),
	)

	return &RunResult{Version: version, FilesPending: len(files)}, nil
}
