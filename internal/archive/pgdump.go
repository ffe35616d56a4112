package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"backhaul/internal/core"
)

// GlobalDatabase is the reserved source name for cluster-wide dumps
// (pg_dumpall -g). A real database cannot be registered under this name.
const GlobalDatabase = "global"

// PgDumpProducer materializes a PostgreSQL database (or the cluster-wide
// globals) as a single dump artifact.
type PgDumpProducer struct {
	pgDumpPath    string
	pgDumpallPath string
	pgRestorePath string
}

// NewPgDumpProducer creates a PgDumpProducer using the PostgreSQL client
// binaries found on PATH.
func NewPgDumpProducer() *PgDumpProducer {
	return &PgDumpProducer{
		pgDumpPath:    "pg_dump",
		pgDumpallPath: "pg_dumpall",
		pgRestorePath: "pg_restore",
	}
}

// NewPgDumpProducerWithPaths creates a PgDumpProducer with explicit binary
// paths, for tests.
func NewPgDumpProducerWithPaths(pgDump, pgDumpall, pgRestore string) *PgDumpProducer {
	return &PgDumpProducer{
		pgDumpPath:    pgDump,
		pgDumpallPath: pgDumpall,
		pgRestorePath: pgRestore,
	}
}

// Produce dumps the database named by target.SourcePath. The reserved name
// "global" dumps cluster-wide objects instead.
func (p *PgDumpProducer) Produce(ctx context.Context, target *core.Target) (*core.Snapshot, error) {
	if target.SourcePath == GlobalDatabase {
		return p.produceGlobals(ctx)
	}
	return p.produceDatabase(ctx, target.SourcePath)
}

// produceDatabase dumps one database with pg_dump -Fc.
//
// Custom-format dumps embed a creation timestamp, so two dumps of identical
// database content differ byte-for-byte. The fingerprint is therefore
// computed over the pg_restore-normalized SQL stream, never over the raw
// dump bytes.
func (p *PgDumpProducer) produceDatabase(ctx context.Context, database string) (*core.Snapshot, error) {
	tmp, err := os.CreateTemp("", "backhaul-*.dump")
	if err != nil {
		return nil, fmt.Errorf("%w: creating artifact file: %v", core.ErrDumpFailed, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.pgDumpPath, "-Fc", database)
	cmd.Stdout = tmp
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	closeErr := tmp.Close()
	if runErr != nil {
		return nil, fmt.Errorf("%w: pg_dump %s: %v: %s", core.ErrDumpFailed, database, runErr, stderr.String())
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: closing artifact: %v", core.ErrDumpFailed, closeErr)
	}

	fingerprint, err := p.normalizedFingerprint(ctx, tmpPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat artifact: %v", core.ErrDumpFailed, err)
	}

	success = true
	return &core.Snapshot{
		Path:        tmpPath,
		Name:        database + ".dump",
		Fingerprint: fingerprint,
		Size:        info.Size(),
	}, nil
}

// produceGlobals dumps cluster-wide objects with pg_dumpall -g. The output
// is plain SQL, so it is fingerprinted directly; the artifact is compressed
// because globals never participate in delta chains.
func (p *PgDumpProducer) produceGlobals(ctx context.Context) (*core.Snapshot, error) {
	tmp, err := os.CreateTemp("", "backhaul-*.sql.gz")
	if err != nil {
		return nil, fmt.Errorf("%w: creating artifact file: %v", core.ErrDumpFailed, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.pgDumpallPath, "-g")
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: piping pg_dumpall: %v", core.ErrDumpFailed, err)
	}
	if err := cmd.Start(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: starting pg_dumpall: %v", core.ErrDumpFailed, err)
	}

	gz := gzip.NewWriter(tmp)
	fingerprint, _, copyErr := core.FingerprintReader(io.TeeReader(stdout, gz))
	gzErr := gz.Close()
	closeErr := tmp.Close()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%w: pg_dumpall: %v: %s", core.ErrDumpFailed, err, stderr.String())
	}
	if copyErr != nil {
		return nil, fmt.Errorf("%w: capturing pg_dumpall output: %v", core.ErrDumpFailed, copyErr)
	}
	if gzErr != nil {
		return nil, fmt.Errorf("%w: compressing artifact: %v", core.ErrDumpFailed, gzErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: closing artifact: %v", core.ErrDumpFailed, closeErr)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat artifact: %v", core.ErrDumpFailed, err)
	}

	success = true
	return &core.Snapshot{
		Path:        tmpPath,
		Name:        "global.sql.gz",
		Fingerprint: fingerprint,
		Size:        info.Size(),
	}, nil
}

// normalizedFingerprint hashes the pg_restore output for a custom-format
// dump.
func (p *PgDumpProducer) normalizedFingerprint(ctx context.Context, dumpPath string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.pgRestorePath, dumpPath)
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: piping pg_restore: %v", core.ErrDumpFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: starting pg_restore: %v", core.ErrDumpFailed, err)
	}

	fingerprint, _, copyErr := core.FingerprintReader(stdout)
	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("%w: pg_restore %s: %v: %s", core.ErrDumpFailed, dumpPath, err, stderr.String())
	}
	if copyErr != nil {
		return "", fmt.Errorf("%w: hashing pg_restore output: %v", core.ErrDumpFailed, copyErr)
	}
	return fingerprint, nil
}

// Compile-time check that PgDumpProducer implements core.ArtifactProducer.
var _ core.ArtifactProducer = (*PgDumpProducer)(nil)
