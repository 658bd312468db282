package frame

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type TaskKind int

const (
	// live preview, a later frame corrects an earlier one
	TaskStream TaskKind = iota
	// single image, there is no next frame
	TaskImage
	// offline file export
	TaskExport
)

func (t TaskKind) String() string {
	switch t {
	case TaskStream:
		return "stream"
	case TaskImage:
		return "image"
	case TaskExport:
		return "export"
	}
	return "unknown"
}

// Interactive reports whether a missing result can be corrected by a later frame
func (t TaskKind) Interactive() bool { return t == TaskStream }

// Context is a reference counted handle to one decoded frame and the stage
// results attached to it on the way through the pipeline.
//
// Ownership moves with the hand-off: whoever receives a Context from a
// channel or callback is the only one allowed to Append to it. Release
// must be called once per reference; the buffer's release hook runs when
// the last reference goes away.
type Context struct {
	// assigned by the dispatcher when the frame leaves the ingress queue
	Seq uint64
	// decode index from the source, used for rate control and re-sorting
	Index      uint64
	TraceID    string
	Task       TaskKind
	SourceRate float64
	Time       time.Time
	Width      int
	Height     int
	// opaque decoded image, e.g. *gocv.Mat
	Buffer any
	// free form tag for the producer, never read by the pipeline
	Tag any

	results []StageResult
	refs    atomic.Int32
	release func(*Context)
}

// New creates a context holding one reference
func New(index uint64, t time.Time, task TaskKind, source_rate float64, buffer any, release func(*Context)) *Context {
	f := &Context{
		Index:      index,
		TraceID:    uuid.NewString(),
		Task:       task,
		SourceRate: source_rate,
		Time:       t,
		Buffer:     buffer,
		release:    release,
	}
	f.refs.Store(1)
	return f
}

func (f *Context) Retain() *Context {
	if f.refs.Add(1) <= 1 {
		panic("frame: retain of a released context")
	}
	return f
}

// Release drops one reference and reports whether it was the last one
func (f *Context) Release() bool {
	n := f.refs.Add(-1)
	if n < 0 {
		panic("frame: context released too many times")
	}
	if n > 0 {
		return false
	}
	if f.release != nil {
		f.release(f)
	}
	f.Buffer = nil
	return true
}

func (f *Context) Refs() int32 { return f.refs.Load() }

func (f *Context) Results() []StageResult { return f.results }

func (f *Context) Append(r StageResult) {
	r.Stage = len(f.results)
	f.results = append(f.results, r)
}

// Last returns the newest stage result
func (f *Context) Last() (StageResult, bool) {
	if len(f.results) == 0 {
		return StageResult{}, false
	}
	return f.results[len(f.results)-1], true
}

// Carry appends copies of results marked as carried over from an earlier frame
func (f *Context) Carry(results []StageResult) {
	for _, r := range results {
		c := r.Clone()
		c.Carried = true
		f.results = append(f.results, c)
	}
}

// Carried reports whether the frame skipped inference at its last stage,
// either by rate control or because the model was still loading
func (f *Context) Carried() bool {
	last, ok := f.Last()
	return ok && (last.Carried || last.Gated)
}

// Snapshot copies the result history, safe to keep after the frame is released
func (f *Context) Snapshot() []StageResult {
	out := make([]StageResult, len(f.results))
	for i, r := range f.results {
		out[i] = r.Clone()
	}
	return out
}
