package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textOnly(name string) bool {
	return strings.HasSuffix(name, ".txt")
}

func TestInboxWatcher_Classify(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWatcher(Options{
		Dir:      dir,
		Supports: textOnly,
		Ingest:   func(context.Context, string) (string, error) { return "", nil },
		Delete:   func(context.Context, string) error { return nil },
	})
	require.NoError(t, err)

	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("content"), 0o644))
	sub := filepath.Join(dir, "nested.txt")
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name  string
		event fsnotify.Event
		want  Action
	}{
		{"create file", fsnotify.Event{Name: file, Op: fsnotify.Create}, ActionIngest},
		{"write file", fsnotify.Event{Name: file, Op: fsnotify.Write}, ActionIngest},
		{"remove file", fsnotify.Event{Name: filepath.Join(dir, "gone.txt"), Op: fsnotify.Remove}, ActionDelete},
		{"rename file", fsnotify.Event{Name: filepath.Join(dir, "old.txt"), Op: fsnotify.Rename}, ActionDelete},
		{"chmod ignored", fsnotify.Event{Name: file, Op: fsnotify.Chmod}, ActionNone},
		{"directory ignored", fsnotify.Event{Name: sub, Op: fsnotify.Create}, ActionNone},
		{"hidden ignored", fsnotify.Event{Name: filepath.Join(dir, ".notes.txt"), Op: fsnotify.Create}, ActionNone},
		{"unsupported ignored", fsnotify.Event{Name: filepath.Join(dir, "image.png"), Op: fsnotify.Create}, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.classify(tt.event))
		})
	}
}

func TestInboxWatcher_IngestsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0o644))

	ingested := make(chan string, 10)
	deleted := make(chan string, 10)

	w, err := NewInboxWatcher(Options{
		Dir:      dir,
		Supports: textOnly,
		Debounce: 20 * time.Millisecond,
		Ingest: func(ctx context.Context, path string) (string, error) {
			ingested <- path
			return "doc-" + filepath.Base(path), nil
		},
		Delete: func(ctx context.Context, documentID string) error {
			deleted <- documentID
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	select {
	case path := <-ingested:
		assert.Equal(t, existing, path)
	case <-time.After(5 * time.Second):
		t.Fatal("existing file was not ingested")
	}

	fresh := filepath.Join(dir, "fresh.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("The sky is blue."), 0o644))
	select {
	case path := <-ingested:
		assert.Equal(t, fresh, path)
	case <-time.After(5 * time.Second):
		t.Fatal("new file was not ingested")
	}

	require.Eventually(t, func() bool {
		_, ok := w.DocumentFor(fresh)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(fresh))
	select {
	case id := <-deleted:
		assert.Equal(t, "doc-fresh.txt", id)
	case <-time.After(5 * time.Second):
		t.Fatal("removed file was not deleted")
	}
}

func TestNewInboxWatcher_Validation(t *testing.T) {
	_, err := NewInboxWatcher(Options{})
	assert.Error(t, err)

	_, err = NewInboxWatcher(Options{Dir: t.TempDir()})
	assert.Error(t, err)
}
