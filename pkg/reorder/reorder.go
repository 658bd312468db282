// Package reorder restores source order for consumers that can't live with
// lanes completing out of order.
package reorder

import (
	"log/slog"

	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/gheap"
)

const DefaultDepth = 8

// Buffer holds frames until the next expected index shows up or more than
// depth frames are waiting. Not safe for concurrent use.
type Buffer struct {
	logger *slog.Logger
	depth  int
	next   uint64
	heap   *gheap.Heap[*frame.Context]
	late   int64
}

func New(parent_logger *slog.Logger, depth int) *Buffer {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Buffer{
		logger: parent_logger.With("coroutine", "reorder"),
		depth:  depth,
		heap: gheap.New(func(a, b *frame.Context) bool {
			return a.Index < b.Index
		}),
	}
}

// Push takes over f and returns the frames that are ready, in index order.
// A frame older than one already released is dropped.
func (b *Buffer) Push(f *frame.Context) []*frame.Context {
	if f.Index < b.next {
		b.late++
		b.logger.Warn("Frame arrived after its successors. Droping...",
			"index", f.Index, "expected", b.next, "late", b.late)
		f.Release()
		return nil
	}
	b.heap.Push(f)

	var ready []*frame.Context
	for {
		top, ok := b.heap.Peek()
		if !ok || (top.Index != b.next && b.heap.Len() <= b.depth) {
			break
		}
		if top.Index != b.next {
			b.logger.Debug("Gap in frame indices, skipping", "from", b.next, "to", top.Index)
		}
		ready = append(ready, b.heap.Pop())
		b.next = top.Index + 1
	}
	return ready
}

// Flush releases everything still held, in index order
func (b *Buffer) Flush() []*frame.Context {
	var ready []*frame.Context
	for !b.heap.IsEmpty() {
		f := b.heap.Pop()
		b.next = f.Index + 1
		ready = append(ready, f)
	}
	return ready
}

func (b *Buffer) Len() int    { return b.heap.Len() }
func (b *Buffer) Late() int64 { return b.late }
