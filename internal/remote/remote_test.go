package remote

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"backhaul/internal/config"
)

func TestMemoryRemote(t *testing.T) {
	m := NewMemoryRemote()
	ctx := context.Background()

	t.Run("put and read back", func(t *testing.T) {
		if err := m.Put(ctx, "docs/backup.tar", strings.NewReader("payload"), 7); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		data, ok := m.Object("docs/backup.tar")
		if !ok || string(data) != "payload" {
			t.Errorf("Object() = %q, %v", data, ok)
		}
		if m.PutCount("docs/backup.tar") != 1 {
			t.Errorf("PutCount() = %d, want 1", m.PutCount("docs/backup.tar"))
		}
	})

	t.Run("size mismatch rejected", func(t *testing.T) {
		err := m.Put(ctx, "docs/short.tar", strings.NewReader("abc"), 99)
		if err == nil {
			t.Fatal("Put() accepted a size mismatch")
		}
		if _, ok := m.Object("docs/short.tar"); ok {
			t.Error("rejected put stored an object")
		}
	})

	t.Run("validate", func(t *testing.T) {
		if err := m.Validate(ctx); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

func TestFileSystemRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("put creates nested object", func(t *testing.T) {
		root := t.TempDir()
		r, err := NewFileSystemRemote(root)
		if err != nil {
			t.Fatal(err)
		}

		if err := r.Put(ctx, "docs/2024/backup.tar", strings.NewReader("payload"), 7); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		data, err := os.ReadFile(filepath.Join(root, "docs", "2024", "backup.tar"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "payload" {
			t.Errorf("stored object = %q, want payload", data)
		}
	})

	t.Run("size mismatch leaves no object", func(t *testing.T) {
		root := t.TempDir()
		r, err := NewFileSystemRemote(root)
		if err != nil {
			t.Fatal(err)
		}

		if err := r.Put(ctx, "docs/backup.tar", strings.NewReader("abc"), 99); err == nil {
			t.Fatal("Put() accepted a size mismatch")
		}
		if _, err := os.Stat(filepath.Join(root, "docs", "backup.tar")); !os.IsNotExist(err) {
			t.Error("partial object visible after failed put")
		}

		// The temp file must be cleaned up as well.
		entries, _ := os.ReadDir(filepath.Join(root, "docs"))
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})

	t.Run("validate missing root", func(t *testing.T) {
		r := &FileSystemRemote{root: filepath.Join(t.TempDir(), "gone")}
		if err := r.Validate(ctx); err == nil {
			t.Error("Validate() passed for a missing root")
		}
	})

	t.Run("put overwrites with newer content", func(t *testing.T) {
		root := t.TempDir()
		r, err := NewFileSystemRemote(root)
		if err != nil {
			t.Fatal(err)
		}

		if err := r.Put(ctx, "k", strings.NewReader("v1"), 2); err != nil {
			t.Fatal(err)
		}
		if err := r.Put(ctx, "k", strings.NewReader("v2"), 2); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(filepath.Join(root, "k"))
		if string(data) != "v2" {
			t.Errorf("object = %q, want v2", data)
		}
	})
}

func TestNewRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("filesystem", func(t *testing.T) {
		r, err := NewRemote(ctx, config.RemoteConfig{Type: "filesystem", FSRoot: t.TempDir()})
		if err != nil {
			t.Fatalf("NewRemote() error = %v", err)
		}
		if _, ok := r.(*FileSystemRemote); !ok {
			t.Errorf("NewRemote() = %T, want *FileSystemRemote", r)
		}
	})

	t.Run("memory", func(t *testing.T) {
		r, err := NewRemote(ctx, config.RemoteConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewRemote() error = %v", err)
		}
		if _, ok := r.(*MemoryRemote); !ok {
			t.Errorf("NewRemote() = %T, want *MemoryRemote", r)
		}
	})

	t.Run("s3 requires a bucket", func(t *testing.T) {
		if _, err := NewRemote(ctx, config.RemoteConfig{Type: "s3"}); err == nil {
			t.Error("NewRemote() accepted an s3 config without a bucket")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewRemote(ctx, config.RemoteConfig{Type: "ftp"}); err == nil {
			t.Error("NewRemote() accepted an unknown type")
		}
	})
}
