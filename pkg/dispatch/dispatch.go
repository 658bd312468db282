// Package dispatch decides which frames get inferred, sheds load at the
// ingress queue and feeds the worker lanes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/lane"
	"golang.org/x/sync/errgroup"
)

const DefaultHighWaterMark = 20

var (
	ERR_MODEL_LOAD_FAILED error = errors.New("Model load failed")
	ERR_CLOSED            error = errors.New("Dispatcher closed")
	ERR_NO_LANES          error = errors.New("No worker lanes")
)

type Config struct {
	Stage int
	// Used when a frame does not carry its own source rate
	VideoRate float64
	// Zero or anything at or above the video rate infers every frame
	TargetRate         float64
	HighWaterMark      int
	MaxInFlightPerLane int
	// Zero uses the lane default
	DrainTimeout time.Duration
}

// Sequencer hands out dispatch sequence numbers. One instance is shared by
// every dispatcher of a pipeline.
type Sequencer struct {
	n atomic.Uint64
}

func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

type Stats struct {
	Submitted  int64
	Skipped    int64
	Gated      int64
	Dropped    int64
	Queued     int64
	Forwarded  int64
	QueueDepth int
	Lanes      []lane.Stats
}

type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	engines []engine.Engine
	lanes   []*lane.Lane
	forward func(*frame.Context)
	carry   func() []frame.StageResult

	// Frames only, sentinels are pushed with a blocking send on Close
	queue chan *frame.Context

	mu     sync.RWMutex
	closed bool

	loaded   chan struct{}
	load_err error
	done     chan struct{}

	last_mu sync.Mutex
	last    []frame.StageResult

	submitted atomic.Int64
	skipped   atomic.Int64
	gated     atomic.Int64
	dropped   atomic.Int64
	queued    atomic.Int64
	forwarded atomic.Int64
}

// New builds one lane per engine. forward receives every frame leaving the
// dispatcher, inferred or not, from any goroutine.
func New(
	cfg Config,
	parent_logger *slog.Logger,
	engines []engine.Engine,
	seq *Sequencer,
	forward func(*frame.Context),
) (*Dispatcher, error) {
	if len(engines) == 0 {
		return nil, ERR_NO_LANES
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	if seq == nil {
		seq = new(Sequencer)
	}
	d := &Dispatcher{
		cfg:     cfg,
		logger:  parent_logger.With("coroutine", "dispatcher", "stage", cfg.Stage),
		engines: engines,
		forward: forward,
		queue:   make(chan *frame.Context, cfg.HighWaterMark),
		loaded:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i, eng := range engines {
		d.lanes = append(d.lanes, lane.New(
			lane.Config{Index: i, MaxInFlight: cfg.MaxInFlightPerLane, DrainTimeout: cfg.DrainTimeout},
			d.logger, eng, d.queue, seq.Next, d.complete))
	}
	return d, nil
}

// SetCarrySource overrides where rate-skipped frames copy their results
// from. By default the dispatcher's own last completion is used.
func (d *Dispatcher) SetCarrySource(carry func() []frame.StageResult) {
	d.carry = carry
}

// Run loads the models and runs the lanes until Close or cancellation
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	eg, child_ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		err := d.load(child_ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			d.logger.Error("Model load failed. Shutting down...", "error", err)
			return err
		}
		d.logger.Info("Models loaded", "lanes", len(d.lanes))
		return nil
	})
	for _, l := range d.lanes {
		eg.Go(func() error {
			return l.Run(child_ctx)
		})
	}
	return eg.Wait()
}

func (d *Dispatcher) load(ctx context.Context) error {
	eg, load_ctx := errgroup.WithContext(ctx)
	for i, eng := range d.engines {
		eg.Go(func() error {
			if err := engine.WaitLoaded(load_ctx, eng.LoadAsync()); err != nil {
				return fmt.Errorf("Lane %d: %w", i, err)
			}
			return nil
		})
	}
	err := eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", ERR_MODEL_LOAD_FAILED, err)
	}
	d.load_err = err
	close(d.loaded)
	return err
}

// Loaded reports whether every lane's model finished loading successfully
func (d *Dispatcher) Loaded() bool {
	select {
	case <-d.loaded:
		return d.load_err == nil
	default:
		return false
	}
}

// Submit takes over the caller's reference to f
func (d *Dispatcher) Submit(ctx context.Context, f *frame.Context) error {
	d.submitted.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		f.Release()
		return ERR_CLOSED
	}

	// Inference was skipped further up the chain
	if f.Carried() || len(f.Results()) < d.cfg.Stage {
		d.skipped.Add(1)
		d.emit(f)
		return nil
	}
	if !d.infer(f) {
		d.skipped.Add(1)
		d.skip(f)
		d.emit(f)
		return nil
	}

	select {
	case <-d.loaded:
	default:
		if f.Task.Interactive() {
			// No detections yet, the next frames will correct the record
			d.gated.Add(1)
			f.Append(frame.StageResult{Kind: d.kind(), Gated: true})
			d.emit(f)
			return nil
		}
		select {
		case <-d.loaded:
		case <-ctx.Done():
			f.Release()
			return ctx.Err()
		}
	}
	if d.load_err != nil {
		f.Release()
		return d.load_err
	}

	if !f.Task.Interactive() {
		// One-shot and export frames wait for room instead of being shed
		select {
		case d.queue <- f:
			d.queued.Add(1)
			return nil
		case <-ctx.Done():
			f.Release()
			return ctx.Err()
		}
	}

	select {
	case d.queue <- f:
		d.queued.Add(1)
	default:
		d.dropped.Add(1)
		d.logger.Warn(
			"Ingress queue at high water mark. Droping the frame...",
			"index", f.Index,
			"trace", f.TraceID,
			"queue depth", len(d.queue),
			"dropped", d.dropped.Load())
		f.Release()
	}
	return nil
}

// Rate control: infer when floor(index mod (video/target)) < 1
func (d *Dispatcher) infer(f *frame.Context) bool {
	video := f.SourceRate
	if video <= 0 {
		video = d.cfg.VideoRate
	}
	target := d.cfg.TargetRate
	if target <= 0 || video <= 0 || target >= video {
		return true
	}
	return math.Floor(math.Mod(float64(f.Index), video/target)) < 1
}

// skip copies the stages f is missing from the carry source. Without
// anything to copy f still gets a carried result for this stage, so that
// later stages pass it through.
func (d *Dispatcher) skip(f *frame.Context) {
	source := d.carried()
	if n := len(f.Results()); n < len(source) {
		f.Carry(source[n:])
	}
	if len(f.Results()) <= d.cfg.Stage {
		f.Append(frame.StageResult{Kind: d.kind(), Carried: true})
	}
}

func (d *Dispatcher) kind() frame.Kind {
	if len(d.engines) == 0 {
		return frame.KindDetection
	}
	return d.engines[0].Kind()
}

func (d *Dispatcher) carried() []frame.StageResult {
	if d.carry != nil {
		return d.carry()
	}
	d.last_mu.Lock()
	defer d.last_mu.Unlock()
	return d.last
}

// Lane completion, runs on lane or engine goroutines
func (d *Dispatcher) complete(f *frame.Context) {
	if last, ok := f.Last(); ok && !last.Failed {
		snapshot := f.Snapshot()
		d.last_mu.Lock()
		d.last = snapshot
		d.last_mu.Unlock()
	}
	d.emit(f)
}

func (d *Dispatcher) emit(f *frame.Context) {
	d.forwarded.Add(1)
	d.forward(f)
}

// Close stops accepting frames, lets the lanes drain the queue and waits
// for Run to return. Nothing is forwarded once Close returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	for range d.lanes {
		select {
		case d.queue <- nil:
		case <-d.done:
			return
		}
	}
	<-d.done
}

func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Submitted:  d.submitted.Load(),
		Skipped:    d.skipped.Load(),
		Gated:      d.gated.Load(),
		Dropped:    d.dropped.Load(),
		Queued:     d.queued.Load(),
		Forwarded:  d.forwarded.Load(),
		QueueDepth: len(d.queue),
	}
	for _, l := range d.lanes {
		s.Lanes = append(s.Lanes, l.Stats())
	}
	return s
}
