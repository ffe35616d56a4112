// Package workdir manages the registry of backup targets under the base
// directory. Each filesystem target owns one working directory named
// <name>.<hash-of-source> holding its config, sync ledger, lock file, and a
// symlink back to the source. Database targets live under db/<name>.
package workdir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"backhaul/internal/config"
	"backhaul/internal/core"
)

const (
	targetFileName = "target.toml"
	ledgerFileName = "ledger.json"
	lockFileName   = "lock"
	sourceLinkName = "src"

	dbDirName = "db"
)

// Registry is the on-disk registry of backup targets.
type Registry struct {
	base string
}

// New opens (creating if necessary) a registry rooted at base.
func New(base string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Join(base, dbDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	return &Registry{base: base}, nil
}

// LedgerPath returns the sync ledger file for a target working directory.
func LedgerPath(dir string) string { return filepath.Join(dir, ledgerFileName) }

// LockPath returns the lock file for a target working directory.
func LockPath(dir string) string { return filepath.Join(dir, lockFileName) }

// InitFS registers a filesystem target: creates its working directory,
// links the source, and stores the target config. The name and the source
// must both be unused.
func (r *Registry) InitFS(name, source string, cfg *config.TargetConfig) (*core.Target, error) {
	if name == "" || strings.ContainsAny(name, "/.") {
		return nil, fmt.Errorf("invalid target name %q: must be non-empty without '/' or '.'", name)
	}
	// Database targets publish under db/<name>; an fs target called db
	// would share that remote key space.
	if name == dbDirName {
		return nil, fmt.Errorf("target name %q is reserved for database targets", name)
	}

	source, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", source)
	}

	if _, _, err := r.ResolveFS(source); err == nil {
		return nil, fmt.Errorf("source %s is already registered", source)
	}
	entries, err := os.ReadDir(r.base)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), name+".") {
			return nil, fmt.Errorf("target name %s is already registered", name)
		}
	}

	dir := filepath.Join(r.base, name+"."+sourceHash(source))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	if err := os.Symlink(source, filepath.Join(dir, sourceLinkName)); err != nil {
		return nil, fmt.Errorf("linking source: %w", err)
	}
	if err := config.WriteTargetFile(filepath.Join(dir, targetFileName), cfg); err != nil {
		return nil, err
	}

	return fsTarget(name, source, cfg), nil
}

// ResolveFS finds the registered filesystem target for a source path.
// Returns the target and its working directory.
func (r *Registry) ResolveFS(source string) (*core.Target, string, error) {
	source, err := filepath.Abs(source)
	if err != nil {
		return nil, "", fmt.Errorf("resolving source path: %w", err)
	}

	entries, err := os.ReadDir(r.base)
	if err != nil {
		return nil, "", fmt.Errorf("reading registry: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == dbDirName {
			continue
		}
		linked, err := os.Readlink(filepath.Join(r.base, e.Name(), sourceLinkName))
		if err != nil || linked != source {
			continue
		}

		dir := filepath.Join(r.base, e.Name())
		name := strings.SplitN(e.Name(), ".", 2)[0]
		cfg, err := config.ReadTargetFile(filepath.Join(dir, targetFileName))
		if err != nil {
			return nil, "", err
		}
		return fsTarget(name, source, cfg), dir, nil
	}
	return nil, "", fmt.Errorf("no target registered for source %s", source)
}

// EnsureDB returns the database target for name, registering it on first
// use. The destination must match the registered one on later runs.
func (r *Registry) EnsureDB(name, destination string, cfg *config.TargetConfig) (*core.Target, string, error) {
	if name == "" || strings.ContainsAny(name, "/.") {
		return nil, "", fmt.Errorf("invalid database name %q", name)
	}

	dir := filepath.Join(r.base, dbDirName, name)
	cfgPath := filepath.Join(dir, targetFileName)

	if _, err := os.Stat(dir); err == nil {
		existing, err := config.ReadTargetFile(cfgPath)
		if err != nil {
			return nil, "", err
		}
		if cfg.DestinationPath != "" && existing.DestinationPath != cfg.DestinationPath {
			return nil, "", fmt.Errorf("database %s is registered with destination %s", name, existing.DestinationPath)
		}
		return dbTarget(name, existing), dir, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating working directory: %w", err)
	}
	if err := config.WriteTargetFile(cfgPath, cfg); err != nil {
		return nil, "", err
	}
	return dbTarget(name, cfg), dir, nil
}

// List returns all registered targets, filesystem first, sorted by name.
func (r *Registry) List() ([]*core.Target, error) {
	var targets []*core.Target

	entries, err := os.ReadDir(r.base)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == dbDirName {
			continue
		}
		dir := filepath.Join(r.base, e.Name())
		source, err := os.Readlink(filepath.Join(dir, sourceLinkName))
		if err != nil {
			continue
		}
		name := strings.SplitN(e.Name(), ".", 2)[0]
		cfg, err := config.ReadTargetFile(filepath.Join(dir, targetFileName))
		if err != nil {
			return nil, err
		}
		targets = append(targets, fsTarget(name, source, cfg))
	}

	dbEntries, err := os.ReadDir(filepath.Join(r.base, dbDirName))
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	for _, e := range dbEntries {
		if !e.IsDir() {
			continue
		}
		cfg, err := config.ReadTargetFile(filepath.Join(r.base, dbDirName, e.Name(), targetFileName))
		if err != nil {
			return nil, err
		}
		targets = append(targets, dbTarget(e.Name(), cfg))
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets, nil
}

// Dir returns the working directory for a target previously returned by
// ResolveFS, EnsureDB, or List.
func (r *Registry) Dir(t *core.Target) (string, error) {
	if strings.HasPrefix(t.Name, dbDirName+"/") {
		return filepath.Join(r.base, dbDirName, strings.TrimPrefix(t.Name, dbDirName+"/")), nil
	}
	return filepath.Join(r.base, t.Name+"."+sourceHash(t.SourcePath)), nil
}

func fsTarget(name, source string, cfg *config.TargetConfig) *core.Target {
	return &core.Target{
		Name:                name,
		Kind:                core.TargetKind(cfg.Kind),
		SourcePath:          source,
		DestinationPath:     cfg.DestinationPath,
		MaxIncrementalCount: cfg.MaxIncrementalCount,
		MaxIncrementalSpan:  cfg.MaxSpan(),
		Excludes:            cfg.Excludes,
	}
}

func dbTarget(name string, cfg *config.TargetConfig) *core.Target {
	return &core.Target{
		Name:                dbDirName + "/" + name,
		Kind:                core.TargetKind(cfg.Kind),
		SourcePath:          name,
		DestinationPath:     cfg.DestinationPath,
		MaxIncrementalCount: cfg.MaxIncrementalCount,
		MaxIncrementalSpan:  cfg.MaxSpan(),
	}
}

// sourceHash distinguishes working directories of same-named targets from
// the directory name alone.
func sourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:4])
}
