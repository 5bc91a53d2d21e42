// Package tailer incrementally reads newly appended bytes from growing
// per-session transcript files, reconstructs complete lines across scans,
// and deduplicates the cost records it derives.
package tailer

import (
	"sync"
	"time"
)

// FileCursor is the per-file read position: everything needed to read only
// new bytes on the next scan. LastPosition is monotonic except when a size
// decrease signals rotation/truncation, which resets it to zero.
type FileCursor struct {
	Path         string
	Size         int64
	ModTime      time.Time
	LastPosition int64
	PartialTail  string // unterminated trailing fragment from the last read
}

// CursorStore holds one cursor per observed file.
type CursorStore struct {
	mu      sync.Mutex
	cursors map[string]*FileCursor
}

// NewCursorStore creates an empty cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[string]*FileCursor)}
}

// Get returns a copy of the cursor for path, if one exists.
func (s *CursorStore) Get(path string) (FileCursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[path]
	if !ok {
		return FileCursor{}, false
	}
	return *c, true
}

// Put stores the cursor, replacing any previous state for the path.
func (s *CursorStore) Put(c FileCursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := c
	s.cursors[c.Path] = &stored
}

// Len returns the number of tracked files.
func (s *CursorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}
