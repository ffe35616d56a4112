// Package archive implements core.ArtifactProducer by invoking external
// dump and archive tools.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"backhaul/internal/core"
)

// NoBackupTag marks directories excluded from filesystem backups: any
// directory containing a file with this name is skipped by tar.
const NoBackupTag = "NOBACKUP-TAG"

// TarProducer materializes a filesystem subtree as a single tar artifact.
//
// The artifact is deliberately not compressed: a one-byte change in the
// source can ripple through the whole compressed stream, which defeats the
// incremental tool's delta encoding.
type TarProducer struct {
	tarPath string
}

// NewTarProducer creates a TarProducer using the tar binary found on PATH.
func NewTarProducer() *TarProducer {
	return &TarProducer{tarPath: "tar"}
}

// NewTarProducerWithPath creates a TarProducer with an explicit tar binary,
// for tests.
func NewTarProducerWithPath(tarPath string) *TarProducer {
	return &TarProducer{tarPath: tarPath}
}

// Produce archives target.SourcePath into a temporary tar file and computes
// its fingerprint. The caller owns cleanup of the returned snapshot.
func (p *TarProducer) Produce(ctx context.Context, target *core.Target) (*core.Snapshot, error) {
	if _, err := os.Stat(target.SourcePath); err != nil {
		return nil, fmt.Errorf("%w: source %s: %v", core.ErrDumpFailed, target.SourcePath, err)
	}

	tmp, err := os.CreateTemp("", "backhaul-*.tar")
	if err != nil {
		return nil, fmt.Errorf("%w: creating artifact file: %v", core.ErrDumpFailed, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	args := []string{"-C", target.SourcePath, "--exclude-tag-under=" + NoBackupTag}
	for _, pattern := range target.Excludes {
		args = append(args, "--exclude="+pattern)
	}
	args = append(args, "-cpf", tmpPath, ".")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.tarPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: tar %s: %v: %s", core.ErrDumpFailed, target.SourcePath, err, stderr.String())
	}

	fingerprint, size, err := core.FingerprintFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprinting artifact: %v", core.ErrDumpFailed, err)
	}

	success = true
	return &core.Snapshot{
		Path:        tmpPath,
		Name:        "backup.tar",
		Fingerprint: fingerprint,
		Size:        size,
	}, nil
}

// Compile-time check that TarProducer implements core.ArtifactProducer.
var _ core.ArtifactProducer = (*TarProducer)(nil)
