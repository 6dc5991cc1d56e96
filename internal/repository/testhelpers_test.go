package repository

import (
	"os"
	"testing"

	"github.com/kiro-dev/kiro-memory/internal/store"
)

// newTestRepo opens a fully migrated Store backed by a temp file and
// returns a Repository over it.
func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	dir, err := os.MkdirTemp("", "kiro-memory-repo-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := store.Open(store.Config{Path: dir + "/test.db"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return New(s)
}
