package watcher

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsCreatedSubdirectory(t *testing.T) {
	root := t.TempDir()

	events := make(chan Event, 16)
	w, err := New(root, log.New(os.Stderr, "", 0), func(batch []Event) {
		for _, e := range batch {
			events <- e
		}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	sub := filepath.Join(root, "1")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	select {
	case e := <-events:
		if e.Kind != Created || !e.IsDir {
			t.Fatalf("expected Created dir event, got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Created event")
	}
}

func TestWatcherRejectsNonDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "notadir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := New(file, log.New(os.Stderr, "", 0), func([]Event) {}); err == nil {
		t.Fatal("expected error watching a non-directory")
	}
}
