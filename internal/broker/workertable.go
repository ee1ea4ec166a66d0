package broker

// WorkerTable is the shared, read-only (after construction) set of every
// worker's inbox channel. Each worker holds a reference to the same table
// and uses it to address every peer except itself — this is the entire
// cross-worker broadcast fabric: no shared mutex, no shared slab, just one
// buffered channel per worker.
type WorkerTable struct {
	inboxes []chan Notification
}

// NewWorkerTable allocates n worker inboxes, each buffered to bufSize.
func NewWorkerTable(n, bufSize int) *WorkerTable {
	wt := &WorkerTable{inboxes: make([]chan Notification, n)}
	for i := range wt.inboxes {
		wt.inboxes[i] = make(chan Notification, bufSize)
	}
	return wt
}

// Len returns the number of workers in the table.
func (wt *WorkerTable) Len() int { return len(wt.inboxes) }

// Inbox returns worker i's notification channel.
func (wt *WorkerTable) Inbox(i int) chan Notification { return wt.inboxes[i] }

// ForEachPeer invokes fn with every worker's inbox except self.
func (wt *WorkerTable) ForEachPeer(self int, fn func(i int, inbox chan Notification)) {
	for i, inbox := range wt.inboxes {
		if i == self {
			continue
		}
		fn(i, inbox)
	}
}

// WorkerOf maps an accepted connection's round-robin counter to a worker
// index. Plain modulo: no load awareness, matching the original acceptor's
// non-rebalancing behavior (spec open question, resolved: not rebalanced).
func WorkerOf(counter uint64, numWorkers int) int {
	return int(counter % uint64(numWorkers))
}
