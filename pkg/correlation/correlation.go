// Package correlation reunites asynchronous inference completions with the
// frame they were dispatched for. A table belongs to exactly one lane.
package correlation

import (
	"sync"

	"github.com/Robogera/analytics/pkg/frame"
)

// Table maps a dispatch sequence number to the in-flight frame.
// The lock only guards the lane's own goroutine against the engine's
// completion goroutines; tables are never shared between lanes.
type Table struct {
	mu      sync.Mutex
	pending map[uint64]*frame.Context
}

// NewTable sizes the table for capacity frames in flight
func NewTable(capacity int) *Table {
	return &Table{pending: make(map[uint64]*frame.Context, capacity)}
}

// Insert registers f under seq. It refuses to overwrite an entry, a
// duplicate means two frames were given the same sequence number.
func (t *Table) Insert(seq uint64, f *frame.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[seq]; exists {
		return false
	}
	t.pending[seq] = f
	return true
}

// Take removes and returns the frame registered under seq
func (t *Table) Take(seq uint64) (*frame.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, found := t.pending[seq]
	if found {
		delete(t.pending, seq)
	}
	return f, found
}

// Len returns how many frames await a completion
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Drain empties the table and returns whatever was still in flight
func (t *Table) Drain() []*frame.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	left := make([]*frame.Context, 0, len(t.pending))
	for seq, f := range t.pending {
		left = append(left, f)
		delete(t.pending, seq)
	}
	return left
}
