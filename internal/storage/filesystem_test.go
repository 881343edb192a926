package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewPrivateFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewPrivateFileStore: %v", err)
	}
	ctx := context.Background()
	path, err := store.Write(ctx, "profiles/default.json", []byte(`{"token":"abc"}`))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
	data, err := store.Read(ctx, "profiles/default.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"token":"abc"}` {
		t.Fatalf("unexpected data %q", data)
	}
	if err := store.Remove(ctx, "profiles/default.json"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Read(ctx, "profiles/default.json"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if err := store.Remove(ctx, "profiles/default.json"); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for %q", key)
		}
	}
	got, err := sanitizeKey("/results//42.png")
	if err != nil {
		t.Fatalf("sanitizeKey: %v", err)
	}
	if got != "results/42.png" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteHonorsCancelledContext(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "x.png", []byte{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.png")); !os.IsNotExist(err) {
		t.Fatalf("file should not exist")
	}
}
