package tailer

import (
	"testing"
	"time"
)

func TestCursorStoreGetReturnsCopy(t *testing.T) {
	s := NewCursorStore()
	s.Put(FileCursor{Path: "/a", Size: 10, LastPosition: 10, ModTime: time.Now()})

	c, ok := s.Get("/a")
	if !ok {
		t.Fatal("cursor not found")
	}
	c.LastPosition = 999

	again, _ := s.Get("/a")
	if again.LastPosition != 10 {
		t.Errorf("stored cursor mutated through copy: %d", again.LastPosition)
	}
}

func TestCursorStorePutReplaces(t *testing.T) {
	s := NewCursorStore()
	s.Put(FileCursor{Path: "/a", LastPosition: 10})
	s.Put(FileCursor{Path: "/a", LastPosition: 20, PartialTail: "frag"})

	c, _ := s.Get("/a")
	if c.LastPosition != 20 || c.PartialTail != "frag" {
		t.Errorf("cursor = %+v", c)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestCursorStoreMissing(t *testing.T) {
	s := NewCursorStore()
	if _, ok := s.Get("/missing"); ok {
		t.Error("missing path reported found")
	}
}
