package version

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"backhaul/internal/core"
)

// enumerate walks the destination directory and fingerprints every regular
// file. Paths are returned slash-separated and relative to dest. The
// activity log at the destination root is skipped: it is appended after the
// enumeration and would perpetually invalidate its own ledger entry.
func enumerate(dest string) ([]core.FileState, error) {
	var files []core.FileState

	err := filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dest, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}
		if rel == core.ActivityLogName {
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks and specials have no pushable byte content.
			return nil
		}

		fingerprint, size, err := core.FingerprintFile(path)
		if err != nil {
			return err
		}

		files = append(files, core.FileState{
			Path:        filepath.ToSlash(rel),
			Fingerprint: fingerprint,
			Size:        size,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", dest, err)
	}

	return files, nil
}
