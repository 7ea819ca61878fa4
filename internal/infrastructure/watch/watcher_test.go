package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestRelevant(t *testing.T) {
	cases := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create", fsnotify.Event{Name: "/src/a.pdf", Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: "/src/a.pdf", Op: fsnotify.Write}, true},
		{"remove", fsnotify.Event{Name: "/src/a.pdf", Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: "/src/a.pdf", Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: "/src/a.pdf", Op: fsnotify.Chmod}, false},
		{"hidden", fsnotify.Event{Name: "/src/.a.pdf.swp", Op: fsnotify.Write}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := relevant(tc.ev); got != tc.want {
				t.Fatalf("relevant(%v) = %v, want %v", tc.ev, got, tc.want)
			}
		})
	}
}

func TestRunCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	calls := make(chan struct{}, 10)
	w := New(150 * time.Millisecond)
	w.ready = func() { close(ready) }

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, dir, func(context.Context) error {
			calls <- struct{}{}
			return nil
		})
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not start")
	}

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a callback after the burst")
	}
	select {
	case <-calls:
		t.Fatalf("burst must produce a single callback")
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
