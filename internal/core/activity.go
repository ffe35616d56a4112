package core

// ActivityLogName is the basename of the per-target activity log kept at
// the root of the destination directory. It churns on every run, so the
// version store excludes it from ledger enumeration.
const ActivityLogName = "log.txt"

// ActivityLog records one plain-text line per skip, backup, or sync event
// for a target. The concrete implementation appends to a log file under the
// target's destination directory.
type ActivityLog interface {
	Append(line string) error
}

// NopActivityLog discards all lines. Use in tests that do not assert on
// activity output.
type NopActivityLog struct{}

func (NopActivityLog) Append(string) error { return nil }
