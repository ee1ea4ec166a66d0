package broker

// ConnectionId identifies a connection within its owning worker's slab. It
// has no meaning across workers: two different workers may both hand out
// ConnectionId(0) to unrelated connections. This departs from spec.md §3's
// process-wide, disjoint-per-worker-range ConnectionId: that scheme exists
// so the owning worker is derivable from the ID alone when a single
// goroutine dispatches readiness events for every connection regardless of
// owner. The goroutine-per-connection redesign (SPEC_FULL.md §9) never
// needs that derivation — a connEvent always arrives on the owning worker's
// own events channel, so "which worker owns this ID" is never asked as a
// question anywhere in the code. See DESIGN.md's slab.go entry.
type ConnectionId uint32

// Slab is a fixed-capacity, append-or-reuse registry of *Connection values,
// indexed by ConnectionId. It is owned exclusively by one Worker goroutine
// and needs no synchronization: the worker is both the only reader and the
// only writer for its own slab.
type Slab struct {
	entries  []*Connection
	free     []ConnectionId
	capacity int
}

// NewSlab returns an empty Slab that will refuse insertions once it holds
// capacity live connections.
func NewSlab(capacity int) *Slab {
	return &Slab{
		entries:  make([]*Connection, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of live connections currently registered.
func (s *Slab) Len() int {
	return len(s.entries) - len(s.free)
}

// Insert registers c and returns its ConnectionId, or ErrSlabFull if the
// slab is already at capacity.
func (s *Slab) Insert(c *Connection) (ConnectionId, error) {
	if s.Len() >= s.capacity {
		return 0, ErrSlabFull
	}
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[id] = c
		return id, nil
	}
	id := ConnectionId(len(s.entries))
	s.entries = append(s.entries, c)
	return id, nil
}

// Get returns the connection at id, or nil if id is vacant or out of range.
func (s *Slab) Get(id ConnectionId) *Connection {
	if int(id) >= len(s.entries) {
		return nil
	}
	return s.entries[id]
}

// Remove vacates id, making it eligible for reuse by a future Insert.
func (s *Slab) Remove(id ConnectionId) {
	if int(id) >= len(s.entries) || s.entries[id] == nil {
		return
	}
	s.entries[id] = nil
	s.free = append(s.free, id)
}

// Each calls fn for every currently live connection. fn must not mutate the
// slab; collect ids to remove and call Remove after Each returns.
func (s *Slab) Each(fn func(ConnectionId, *Connection)) {
	for id, c := range s.entries {
		if c != nil {
			fn(ConnectionId(id), c)
		}
	}
}
