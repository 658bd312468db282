// Package lane runs one inference engine against a shared ingress queue.
package lane

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Robogera/analytics/pkg/correlation"
	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/gsma"
)

const (
	latency_window        = 32
	default_drain_timeout = 5 * time.Second
)

type Config struct {
	Index int
	// Upper bound on frames waiting for an asynchronous completion
	MaxInFlight int
	// How long Run waits for outstanding completions on shutdown before
	// giving the frames up as lost
	DrainTimeout time.Duration
}

type Stats struct {
	Dequeued   int64
	Completed  int64
	Failed     int64
	Violations int64
	InFlight   int
	// moving average over the last completions
	AvgInference time.Duration
}

// Lane owns an engine instance and a private correlation table.
// Frames are taken off the queue by the lane goroutine, completions are
// handled on whatever goroutine the engine calls back on.
type Lane struct {
	cfg     Config
	logger  *slog.Logger
	engine  engine.Engine
	table   *correlation.Table
	queue   <-chan *frame.Context
	next    func() uint64
	forward func(*frame.Context)

	in_flight chan struct{}
	pending   sync.WaitGroup

	dequeued   atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	violations atomic.Int64

	latency_mu sync.Mutex
	latency    *gsma.SMA[time.Duration]
}

// New creates a lane reading from queue. next hands out sequence numbers
// and forward receives every finished frame together with its reference.
func New(
	cfg Config,
	parent_logger *slog.Logger,
	eng engine.Engine,
	queue <-chan *frame.Context,
	next func() uint64,
	forward func(*frame.Context),
) *Lane {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = default_drain_timeout
	}
	latency, _ := gsma.NewSMA[time.Duration](latency_window)
	return &Lane{
		cfg:       cfg,
		logger:    parent_logger.With("coroutine", "lane", "lane", cfg.Index),
		engine:    eng,
		table:     correlation.NewTable(cfg.MaxInFlight),
		queue:     queue,
		next:      next,
		forward:   forward,
		in_flight: make(chan struct{}, cfg.MaxInFlight),
		latency:   latency,
	}
}

func (l *Lane) Index() int { return l.cfg.Index }

func (l *Lane) Stats() Stats {
	l.latency_mu.Lock()
	avg := time.Duration(l.latency.Show())
	l.latency_mu.Unlock()
	return Stats{
		Dequeued:     l.dequeued.Load(),
		Completed:    l.completed.Load(),
		Failed:       l.failed.Load(),
		Violations:   l.violations.Load(),
		InFlight:     l.table.Len(),
		AvgInference: avg,
	}
}

// Run processes frames until a nil sentinel is dequeued or ctx is cancelled.
// In both cases it returns once every outstanding completion arrived or
// DrainTimeout passed.
func (l *Lane) Run(ctx context.Context) error {
	l.logger.Debug("Started", "max in flight", l.cfg.MaxInFlight)
	defer l.drain()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Cancelled by context", "in flight", l.table.Len())
			return context.Canceled
		case f := <-l.queue:
			if f == nil {
				l.logger.Debug("Sentinel received, draining", "in flight", l.table.Len())
				return nil
			}
			l.dequeued.Add(1)
			l.handle(ctx, f)
		}
	}
}

func (l *Lane) handle(ctx context.Context, f *frame.Context) {
	f.Seq = l.next()
	if last, ok := f.Last(); ok {
		l.regions(ctx, f, last)
		return
	}

	// Reserve a slot before registering, the slot bounds the table size
	select {
	case l.in_flight <- struct{}{}:
	case <-ctx.Done():
		l.logger.Debug("Frame abandoned on shutdown", "seq", f.Seq, "trace", f.TraceID)
		f.Release()
		return
	}

	if !l.table.Insert(f.Seq, f) {
		<-l.in_flight
		l.violations.Add(1)
		l.logger.Error("Sequence number already in flight", "seq", f.Seq, "trace", f.TraceID)
		f.Append(frame.StageResult{Kind: l.engine.Kind(), Failed: true, Err: ERR_DUPLICATE_SEQ})
		l.forward(f)
		return
	}
	l.pending.Add(1)

	start := time.Now()
	in := engine.Input{Frame: f}
	if f.Task.Interactive() {
		err := l.engine.InferAsync(in, f.Seq, func(seq uint64, detections []frame.Detection, err error) {
			l.complete(seq, start, detections, err)
		})
		if err != nil {
			l.complete(f.Seq, start, nil, err)
		}
		return
	}
	detections, err := l.engine.InferSync(ctx, in)
	l.complete(f.Seq, start, detections, err)
}

// drain waits for outstanding completions. Frames whose completion did not
// arrive in time are forwarded with a failed result and counted as
// violations; a late callback for them is then an unknown sequence number.
func (l *Lane) drain() {
	settled := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(settled)
	}()
	timer := time.NewTimer(l.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-settled:
		return
	case <-timer.C:
	}

	for _, f := range l.table.Drain() {
		l.violations.Add(1)
		l.logger.Error("Completion never arrived", "seq", f.Seq, "trace", f.TraceID, "waited", l.cfg.DrainTimeout)
		f.Append(frame.StageResult{Kind: l.engine.Kind(), Failed: true, Err: ERR_LOST_COMPLETION})
		l.failed.Add(1)
		l.forward(f)
		<-l.in_flight
		l.pending.Done()
	}
	<-settled
}

// complete may run on an engine goroutine
func (l *Lane) complete(seq uint64, start time.Time, detections []frame.Detection, err error) {
	f, found := l.table.Take(seq)
	if !found {
		// Nothing to release: the slot belongs to whichever completion
		// took the entry, or the entry never existed
		l.violations.Add(1)
		l.logger.Error("Completion for unknown sequence number", "seq", seq, "in flight", l.table.Len())
		return
	}
	defer l.pending.Done()
	defer func() { <-l.in_flight }()

	l.observe(time.Since(start))
	result := frame.StageResult{Kind: l.engine.Kind()}
	for i, d := range detections {
		d.ID = i
		d.ParentID = frame.NoParent
		result.Detections = append(result.Detections, d)
	}
	if err != nil {
		l.fail(&result, f, err)
	}
	l.completed.Add(1)
	f.Append(result)
	l.forward(f)
}

// Later stage: run once per region found by the previous stage, no async boundary
func (l *Lane) regions(ctx context.Context, f *frame.Context, parents frame.StageResult) {
	start := time.Now()
	result := frame.StageResult{Kind: l.engine.Kind()}
	if parents.Failed {
		result.Failed = true
		result.Err = parents.Err
	}
	for _, parent := range parents.Detections {
		detections, err := l.engine.InferSync(ctx, engine.Input{Frame: f, Region: &parent})
		if err != nil {
			l.fail(&result, f, err)
			continue
		}
		for _, d := range detections {
			d.ID = len(result.Detections)
			d.ParentID = parent.ID
			result.Detections = append(result.Detections, d)
		}
	}
	l.observe(time.Since(start))
	l.completed.Add(1)
	f.Append(result)
	l.forward(f)
}

func (l *Lane) fail(result *frame.StageResult, f *frame.Context, err error) {
	result.Failed = true
	result.Err = err
	l.failed.Add(1)
	if !errors.Is(err, engine.ERR_UNSUPPORTED_INPUT) {
		l.logger.Warn("Inference failed", "seq", f.Seq, "trace", f.TraceID, "error", err)
	}
}

func (l *Lane) observe(d time.Duration) {
	l.latency_mu.Lock()
	l.latency.Recalc(d)
	l.latency_mu.Unlock()
}
