// Package activity appends human-readable event lines to the per-target
// activity log kept at the root of the destination directory.
package activity

import (
	"fmt"
	"os"
	"path/filepath"

	"backhaul/internal/core"
)

// FileLog appends timestamped lines to <destination>/log.txt.
type FileLog struct {
	path  string
	clock core.Clock
	owner *core.Owner
}

// NewFileLog creates an activity log for the given destination directory.
// A non-nil owner has the log file reassigned after every append.
func NewFileLog(destination string, clock core.Clock, owner *core.Owner) *FileLog {
	return &FileLog{
		path:  filepath.Join(destination, core.ActivityLogName),
		clock: clock,
		owner: owner,
	}
}

// Append writes one line with a local-time prefix. The file is opened in
// append mode per call so concurrent runs against different targets never
// share a handle.
func (l *FileLog) Append(line string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	stamp := l.clock.Now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(f, "%s %s\n", stamp, line); err != nil {
		return fmt.Errorf("writing activity log: %w", err)
	}
	return l.owner.Chown(l.path)
}

// Compile-time check that FileLog implements core.ActivityLog.
var _ core.ActivityLog = (*FileLog)(nil)
