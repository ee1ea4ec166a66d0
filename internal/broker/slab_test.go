package broker

import "testing"

func TestSlabInsertAndGet(t *testing.T) {
	s := NewSlab(4)
	c := &Connection{}
	id, err := s.Insert(c)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := s.Get(id); got != c {
		t.Fatalf("get mismatch")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestSlabRejectsWhenFull(t *testing.T) {
	s := NewSlab(2)
	if _, err := s.Insert(&Connection{}); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := s.Insert(&Connection{}); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if _, err := s.Insert(&Connection{}); err == nil {
		t.Fatalf("expected ErrSlabFull on third insert")
	}
}

func TestSlabRemoveFreesSlotForReuse(t *testing.T) {
	s := NewSlab(1)
	id1, err := s.Insert(&Connection{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Remove(id1)
	if s.Len() != 0 {
		t.Fatalf("len after remove = %d, want 0", s.Len())
	}
	c2 := &Connection{}
	id2, err := s.Insert(c2)
	if err != nil {
		t.Fatalf("insert after remove: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("expected reused id %d, got %d", id1, id2)
	}
	if s.Get(id2) != c2 {
		t.Fatalf("get after reuse mismatch")
	}
}

func TestSlabGetOutOfRangeReturnsNil(t *testing.T) {
	s := NewSlab(4)
	if got := s.Get(99); got != nil {
		t.Fatalf("expected nil for out-of-range id, got %v", got)
	}
}

func TestSlabEachSkipsVacantSlots(t *testing.T) {
	s := NewSlab(4)
	id1, _ := s.Insert(&Connection{})
	_, _ = s.Insert(&Connection{})
	s.Remove(id1)
	n := 0
	s.Each(func(id ConnectionId, c *Connection) { n++ })
	if n != 1 {
		t.Fatalf("expected 1 live entry visited, got %d", n)
	}
}
