package vision

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/atlas-agents/atlas/pkg/config"
)

// Store manages the process-wide screenshot directory: captures are
// append-only and the number of retained files is capped, pruned oldest
// first. Safe for parallel use.
type Store struct {
	dir       string
	maxStored int

	mu    sync.Mutex
	files []string // retained paths, oldest first
}

// NewStore creates a store over the capture directory, adopting any files
// already present (ordered by modification time).
func NewStore(dir string, maxStored int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type aged struct {
		path string
		mod  int64
	}
	var existing []aged
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		existing = append(existing, aged{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].mod < existing[j].mod })

	s := &Store{dir: dir, maxStored: maxStored}
	for _, f := range existing {
		s.files = append(s.files, f.path)
	}
	s.prune()
	return s, nil
}

// Dir returns the capture directory.
func (s *Store) Dir() string { return s.dir }

// Record registers a freshly captured file and prunes beyond the cap.
func (s *Store) Record(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, path)
	s.prune()
}

// Count returns the number of retained files.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// prune removes the oldest files beyond maxStored. Caller holds s.mu (or is
// the constructor, before the store is shared).
func (s *Store) prune() {
	for len(s.files) > s.maxStored {
		oldest := s.files[0]
		s.files = s.files[1:]
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to prune screenshot", "path", oldest, "error", err)
		}
	}
}

// Capturer serializes captures for one session through the shared service
// and records results in the store. No two visual attempts for the same item
// run concurrently because the verifier calls Capture sequentially under
// this mutex.
type Capturer struct {
	svc   CaptureService
	store *Store
	mu    sync.Mutex
}

// NewCapturer wraps a capture service with per-session serialization.
func NewCapturer(svc CaptureService, store *Store) *Capturer {
	return &Capturer{svc: svc, store: store}
}

// Capture takes one serialized screenshot and records it.
func (c *Capturer) Capture(ctx context.Context, mode config.CaptureMode) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.svc.Capture(ctx, mode)
	if err != nil {
		return "", err
	}
	c.store.Record(path)
	return path, nil
}
