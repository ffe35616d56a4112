package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"backhaul/internal/activity"
	"backhaul/internal/archive"
	"backhaul/internal/catalog"
	"backhaul/internal/config"
	"backhaul/internal/core"
	"backhaul/internal/ledger"
	"backhaul/internal/lock"
	"backhaul/internal/remote"
	"backhaul/internal/version"
	"backhaul/internal/workdir"
)

// App is the application layer between the CLI and the core packages.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string arguments, and manages resource lifecycles on
// Close.
type App struct {
	cfg      *config.Config
	registry *workdir.Registry
	remote   core.Remote
	catalog  core.Catalog
	logger   core.Logger
	clock    core.Clock
	logFile  *os.File
}

// New creates a fully wired App from the given config. operation identifies
// the CLI command being run and tags every log line of the invocation.
// With quiet set, log output goes only to the log file, not stderr.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, quiet bool) (*App, error) {
	registry, err := workdir.New(filepath.Join(cfg.BaseDir, "targets"))
	if err != nil {
		return nil, fmt.Errorf("opening target registry: %w", err)
	}

	rem, err := remote.NewRemote(ctx, cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	opID := fmt.Sprintf("%s-%s", operation, core.UUIDGenerator{}.New()[:8])
	logger, logFile, err := newLogger(cfg.LogDir, opID, quiet)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:      cfg,
		registry: registry,
		remote:   rem,
		catalog:  cat,
		logger:   &slogAdapter{l: logger},
		clock:    core.RealClock{},
		logFile:  logFile,
	}, nil
}

// InitFS registers a new filesystem target.
func (a *App) InitFS(name, kind, source, destination string) (*core.Target, error) {
	switch core.TargetKind(kind) {
	case core.KindArchive, core.KindIncrementalDelta:
	default:
		return nil, fmt.Errorf("unknown target kind %q", kind)
	}

	destination, err := filepath.Abs(destination)
	if err != nil {
		return nil, fmt.Errorf("resolving destination path: %w", err)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination: %w", err)
	}

	tcfg := config.DefaultTargetConfig(kind, destination)
	target, err := a.registry.InitFS(name, source, tcfg)
	if err != nil {
		return nil, err
	}
	a.logger.Info("target registered", "target", target.Name, "kind", kind, "source", target.SourcePath)
	return target, nil
}

// RunFS backs up the filesystem target registered for source, then pushes
// the resulting pending entries. Transfer failures do not undo the backup;
// the failed entries stay pending for a later sync. A non-nil owner has
// created files reassigned.
func (a *App) RunFS(ctx context.Context, source string, owner *core.Owner) (*core.RunResult, *core.SyncReport, error) {
	target, dir, err := a.registry.ResolveFS(source)
	if err != nil {
		return nil, nil, err
	}

	store, err := a.storeFor(target, dir, owner)
	if err != nil {
		return nil, nil, err
	}
	return a.run(ctx, target, dir, archive.NewTarProducer(), store, owner)
}

// RunDB dumps the named database (or the cluster globals) and commits the
// dump into the target's incremental chain, then pushes the resulting
// pending entries. The target is registered on first use; destination must
// match on later runs.
func (a *App) RunDB(ctx context.Context, database string, global bool, destination string, owner *core.Owner) (*core.RunResult, *core.SyncReport, error) {
	if global {
		database = archive.GlobalDatabase
	} else if database == archive.GlobalDatabase {
		return nil, nil, fmt.Errorf("database name %q is reserved for cluster globals", database)
	}

	destination, err := filepath.Abs(destination)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving destination path: %w", err)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating destination: %w", err)
	}

	// Dumps age through rdiff-backup chains like filesystem targets, which
	// is why single-database dumps stay uncompressed.
	tcfg := config.DefaultTargetConfig(string(core.KindIncrementalDelta), destination)
	target, dir, err := a.registry.EnsureDB(database, destination, tcfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := a.storeFor(target, dir, owner)
	if err != nil {
		return nil, nil, err
	}
	return a.run(ctx, target, dir, archive.NewPgDumpProducer(), store, owner)
}

// storeFor picks the version store matching the target kind.
func (a *App) storeFor(target *core.Target, dir string, owner *core.Owner) (core.VersionStore, error) {
	switch target.Kind {
	case core.KindIncrementalDelta:
		return version.NewRdiffStore(filepath.Join(dir, "scratch"), a.clock, owner), nil
	case core.KindArchive:
		return version.NewArchiveStore(a.clock, owner), nil
	default:
		return nil, fmt.Errorf("target %s: unknown kind %q", target.Name, target.Kind)
	}
}

// run holds the lock for the whole backup-then-sync sequence so a
// concurrent sync cannot observe the ledger between the two phases.
func (a *App) run(ctx context.Context, target *core.Target, dir string, producer core.ArtifactProducer, store core.VersionStore, owner *core.Owner) (*core.RunResult, *core.SyncReport, error) {
	lk, err := lock.Acquire(workdir.LockPath(dir))
	if err != nil {
		return nil, nil, fmt.Errorf("target %s: %w", target.Name, err)
	}
	defer lk.Release()

	led, err := ledger.Open(workdir.LedgerPath(dir), a.clock)
	if err != nil {
		return nil, nil, fmt.Errorf("target %s: %w", target.Name, err)
	}

	runID, err := a.catalog.CreateRun("backup", target.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("target %s: recording run: %w", target.Name, err)
	}

	runner := core.NewRunner(producer, store, a.catalog, led, activity.NewFileLog(target.DestinationPath, a.clock, owner), a.logger, a.clock)
	result, err := runner.Run(ctx, target)
	if err != nil {
		a.finishRun(runID, "failed")
		return nil, nil, err
	}

	report, err := a.syncTarget(ctx, target, led)
	if err != nil {
		a.finishRun(runID, "failed")
		return result, report, err
	}

	status := "ok"
	if !report.Complete() {
		status = "incomplete"
	}
	a.finishRun(runID, status)
	return result, report, nil
}

// Sync drains pending ledger entries. With an empty name all targets are
// synced; otherwise only the named one. Transfer failures are collected in
// the reports, not returned as an error.
func (a *App) Sync(ctx context.Context, targetName string) ([]*core.SyncReport, error) {
	if err := a.remote.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validating remote: %w", err)
	}

	targets, err := a.selectTargets(targetName)
	if err != nil {
		return nil, err
	}

	var reports []*core.SyncReport
	for _, target := range targets {
		dir, err := a.registry.Dir(target)
		if err != nil {
			return reports, err
		}

		lk, err := lock.Acquire(workdir.LockPath(dir))
		if err != nil {
			return reports, fmt.Errorf("target %s: %w", target.Name, err)
		}

		led, err := ledger.Open(workdir.LedgerPath(dir), a.clock)
		if err != nil {
			lk.Release()
			return reports, fmt.Errorf("target %s: %w", target.Name, err)
		}

		runID, err := a.catalog.CreateRun("sync", target.Name)
		if err != nil {
			lk.Release()
			return reports, fmt.Errorf("target %s: recording run: %w", target.Name, err)
		}

		report, err := a.syncTarget(ctx, target, led)
		if report != nil {
			reports = append(reports, report)
		}
		status := "ok"
		if report == nil || !report.Complete() {
			status = "incomplete"
		}
		a.finishRun(runID, status)
		lk.Release()
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (a *App) syncTarget(ctx context.Context, target *core.Target, led core.Ledger) (*core.SyncReport, error) {
	engine := core.NewSyncEngine(a.remote, a.logger, a.cfg.Sync.Parallelism)
	report, err := engine.Sync(ctx, target, led)
	if err != nil {
		return report, fmt.Errorf("target %s: %w", target.Name, err)
	}
	return report, nil
}

// TargetState pairs a target with its ledger entries for status reporting.
type TargetState struct {
	Target  *core.Target
	Entries []core.LedgerEntry
}

// SyncState returns the ledger contents for each target. With pendingOnly,
// only unconfirmed entries are included.
func (a *App) SyncState(targetName string, pendingOnly bool) ([]*TargetState, error) {
	targets, err := a.selectTargets(targetName)
	if err != nil {
		return nil, err
	}

	var states []*TargetState
	for _, target := range targets {
		dir, err := a.registry.Dir(target)
		if err != nil {
			return nil, err
		}
		led, err := ledger.Open(workdir.LedgerPath(dir), a.clock)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Name, err)
		}

		var entries []core.LedgerEntry
		if pendingOnly {
			entries, err = led.Pending()
		} else {
			entries, err = led.Entries()
		}
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Name, err)
		}
		states = append(states, &TargetState{Target: target, Entries: entries})
	}
	return states, nil
}

// ResetLedger clears the named target's ledger. It refuses while pending
// entries exist. A ledger that fails its integrity check cannot report
// pending entries at all, so reset is its one recovery path: the corrupt
// image is removed and the next run starts from an empty ledger.
func (a *App) ResetLedger(targetName string) error {
	target, dir, err := a.findTarget(targetName)
	if err != nil {
		return err
	}

	lk, err := lock.Acquire(workdir.LockPath(dir))
	if err != nil {
		return fmt.Errorf("target %s: %w", target.Name, err)
	}
	defer lk.Release()

	led, err := ledger.Open(workdir.LedgerPath(dir), a.clock)
	if errors.Is(err, core.ErrLedgerCorrupt) {
		if rmErr := os.Remove(workdir.LedgerPath(dir)); rmErr != nil {
			return fmt.Errorf("target %s: removing corrupt ledger: %w", target.Name, rmErr)
		}
		a.logger.Warn("corrupt ledger removed", "target", target.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("target %s: %w", target.Name, err)
	}
	if err := led.Reset(); err != nil {
		return fmt.Errorf("target %s: %w", target.Name, err)
	}
	a.logger.Info("ledger reset", "target", target.Name)
	return nil
}

// TargetVersions pairs a target with its committed version chain.
type TargetVersions struct {
	Target   *core.Target
	Versions []*core.Version
}

// ListBackups returns the version chains for each target, oldest first.
func (a *App) ListBackups(targetName string) ([]*TargetVersions, error) {
	targets, err := a.selectTargets(targetName)
	if err != nil {
		return nil, err
	}

	var out []*TargetVersions
	for _, target := range targets {
		versions, err := a.catalog.ListVersions(target.Name)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Name, err)
		}
		out = append(out, &TargetVersions{Target: target, Versions: versions})
	}
	return out, nil
}

// Targets returns all registered targets.
func (a *App) Targets() ([]*core.Target, error) {
	return a.registry.List()
}

// selectTargets returns all targets, or just the named one when name is
// non-empty.
func (a *App) selectTargets(name string) ([]*core.Target, error) {
	if name == "" {
		targets, err := a.registry.List()
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("no targets registered")
		}
		return targets, nil
	}
	target, _, err := a.findTarget(name)
	if err != nil {
		return nil, err
	}
	return []*core.Target{target}, nil
}

func (a *App) findTarget(name string) (*core.Target, string, error) {
	targets, err := a.registry.List()
	if err != nil {
		return nil, "", err
	}
	for _, t := range targets {
		if t.Name == name {
			dir, err := a.registry.Dir(t)
			if err != nil {
				return nil, "", err
			}
			return t, dir, nil
		}
	}
	return nil, "", fmt.Errorf("no target named %s", name)
}

func (a *App) finishRun(id int64, status string) {
	if err := a.catalog.FinishRun(id, status); err != nil {
		a.logger.Warn("finishing run record", "run", id, "error", err)
	}
}

// Close releases all resources.
func (a *App) Close() error {
	err := a.catalog.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
