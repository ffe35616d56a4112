package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"backhaul/internal/core"
)

// StubProducer returns a pre-built snapshot, writing its content to a fresh
// temp file on every Produce so the runner's cleanup has something to
// remove. A non-nil Err is returned instead.
type StubProducer struct {
	Name    string
	Content []byte
	Err     error
}

func (p *StubProducer) Produce(_ context.Context, target *core.Target) (*core.Snapshot, error) {
	if p.Err != nil {
		return nil, p.Err
	}

	f, err := os.CreateTemp("", "stub-artifact-*")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(p.Content); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = "backup.tar"
	}
	return &core.Snapshot{
		Path:        f.Name(),
		Name:        name,
		Fingerprint: SHA256Hex(p.Content),
		Size:        int64(len(p.Content)),
	}, nil
}

// StubStore is a scripted VersionStore. It records every Commit call and
// returns the configured file states or error.
type StubStore struct {
	Files []core.FileState
	Err   error

	mu      sync.Mutex
	commits []core.Method
}

func (s *StubStore) Commit(_ context.Context, _ *core.Target, _ *core.Snapshot, method core.Method) ([]core.FileState, error) {
	s.mu.Lock()
	s.commits = append(s.commits, method)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Files, nil
}

// Commits returns the methods of all Commit calls in order.
func (s *StubStore) Commits() []core.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Method{}, s.commits...)
}

// FlakyRemote wraps a Remote and fails the first FailFirst puts, then
// delegates. It models a store that recovers between sync invocations.
type FlakyRemote struct {
	Inner     core.Remote
	FailFirst int

	mu       sync.Mutex
	attempts int
}

func (r *FlakyRemote) Put(ctx context.Context, key string, reader io.Reader, size int64) error {
	r.mu.Lock()
	r.attempts++
	fail := r.attempts <= r.FailFirst
	r.mu.Unlock()
	if fail {
		return fmt.Errorf("transient store error")
	}
	return r.Inner.Put(ctx, key, reader, size)
}

func (r *FlakyRemote) Validate(ctx context.Context) error { return r.Inner.Validate(ctx) }

// Attempts returns the number of Put calls seen so far.
func (r *FlakyRemote) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// FailKeyRemote wraps a Remote and fails every put for the given keys.
type FailKeyRemote struct {
	Inner core.Remote
	Keys  map[string]bool
}

func (r *FailKeyRemote) Put(ctx context.Context, key string, reader io.Reader, size int64) error {
	if r.Keys[key] {
		return fmt.Errorf("store rejected %s", key)
	}
	return r.Inner.Put(ctx, key, reader, size)
}

func (r *FailKeyRemote) Validate(ctx context.Context) error { return r.Inner.Validate(ctx) }

// RecordingActivityLog captures appended lines in order.
type RecordingActivityLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *RecordingActivityLog) Append(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	return nil
}

// Lines returns all appended lines in order.
func (l *RecordingActivityLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.lines...)
}

// WriteFiles materializes the given relative-path-to-content map under dir
// and returns the corresponding file states, fingerprinted like the version
// stores do.
func WriteFiles(dir string, files map[string]string) ([]core.FileState, error) {
	var states []core.FileState
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, err
		}
		states = append(states, core.FileState{
			Path:        rel,
			Fingerprint: SHA256Hex([]byte(content)),
			Size:        int64(len(content)),
		})
	}
	return states, nil
}

var (
	_ core.ArtifactProducer = (*StubProducer)(nil)
	_ core.VersionStore     = (*StubStore)(nil)
	_ core.Remote           = (*FlakyRemote)(nil)
	_ core.Remote           = (*FailKeyRemote)(nil)
	_ core.ActivityLog      = (*RecordingActivityLog)(nil)
)
