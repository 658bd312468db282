// Package pipeline wires the inference stages, the optional re-sort buffer
// and the single threaded analytics into one explicitly owned object.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/debounce"
	"github.com/Robogera/analytics/pkg/dispatch"
	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/reorder"
	"github.com/Robogera/analytics/pkg/report"
	"github.com/Robogera/analytics/pkg/tracker"
	"golang.org/x/sync/errgroup"
)

const default_done_capacity = 64

var (
	ERR_NO_STAGES error = errors.New("Pipeline needs at least one inference stage")
)

type Stage struct {
	Engines  []engine.Engine
	Dispatch dispatch.Config
}

// Signal turns the visible objects of a frame into the debouncer input
type Signal struct {
	// empty means every class counts
	ClassIDs   []int
	MinObjects int
}

func (s Signal) Eval(tracks []tracker.Track, detections []frame.Detection, tracking bool) bool {
	count := 0
	if tracking {
		for _, tr := range tracks {
			if tr.Lost == 0 && s.counts(tr.ClassID) {
				count++
			}
		}
	} else {
		for _, d := range detections {
			if s.counts(d.ClassID) {
				count++
			}
		}
	}
	return count >= max(1, s.MinObjects)
}

func (s Signal) counts(class int) bool {
	return len(s.ClassIDs) == 0 || slices.Contains(s.ClassIDs, class)
}

type Config struct {
	Source string
	Stages []Stage
	// Stage whose detections feed the tracker
	TrackStage int

	Resort      bool
	ResortDepth int

	// nil disables the component
	Tracker  *tracker.Config
	Crossing *crossing.Config
	Debounce *debounce.Config
	Signal   Signal

	Predicates []report.Predicate
	Sinks      []report.Sink
	// Annotated frames for a consumer such as the preview, 0 disables
	OutCapacity int
}

type Stats struct {
	Stages   []dispatch.Stats
	Analyzed int64
	Reported int64
	Late     int64
	// annotations dropped because the Out consumer lagged
	OutDropped int64
}

type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stages []*dispatch.Dispatcher
	done   chan *frame.Context
	out    chan *report.Annotation

	tracker  *tracker.Tracker
	crossing *crossing.Detector
	debounce *debounce.Debouncer
	reorder  *reorder.Buffer

	last_mu sync.Mutex
	last    []frame.StageResult

	close_once sync.Once

	analyzed    atomic.Int64
	reported    atomic.Int64
	late        atomic.Int64
	out_dropped atomic.Int64
}

func New(cfg Config, parent_logger *slog.Logger) (*Pipeline, error) {
	if len(cfg.Stages) == 0 {
		return nil, ERR_NO_STAGES
	}
	logger := parent_logger.With("source", cfg.Source)
	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		done:   make(chan *frame.Context, default_done_capacity),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if cfg.OutCapacity > 0 {
		p.out = make(chan *report.Annotation, cfg.OutCapacity)
	}

	var err error
	if cfg.Tracker != nil {
		if p.tracker, err = tracker.New(*cfg.Tracker); err != nil {
			return nil, err
		}
	}
	if cfg.Crossing != nil {
		if p.crossing, err = crossing.New(*cfg.Crossing); err != nil {
			return nil, err
		}
	}
	if cfg.Debounce != nil {
		if p.debounce, err = debounce.New(*cfg.Debounce); err != nil {
			return nil, err
		}
	}
	// the tracker has to see frames in source order
	if cfg.Resort || p.tracker != nil {
		p.reorder = reorder.New(logger, cfg.ResortDepth)
	}

	seq := new(dispatch.Sequencer)
	p.stages = make([]*dispatch.Dispatcher, len(cfg.Stages))
	for i := len(cfg.Stages) - 1; i >= 0; i-- {
		stage_cfg := cfg.Stages[i].Dispatch
		stage_cfg.Stage = i
		d, err := dispatch.New(stage_cfg, logger, cfg.Stages[i].Engines, seq, p.forwarder(i))
		if err != nil {
			return nil, err
		}
		p.stages[i] = d
	}
	p.stages[0].SetCarrySource(p.carried)
	return p, nil
}

// forwarder hands frames finished by stage i to the next stage or to the
// analytics goroutine
func (p *Pipeline) forwarder(i int) func(*frame.Context) {
	if i == len(p.cfg.Stages)-1 {
		return func(f *frame.Context) {
			select {
			case p.done <- f:
			case <-p.ctx.Done():
				f.Release()
			}
		}
	}
	return func(f *frame.Context) {
		if err := p.stages[i+1].Submit(p.ctx, f); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Next stage refused the frame", "stage", i+1, "index", f.Index, "error", err)
		}
	}
}

func (p *Pipeline) carried() []frame.StageResult {
	p.last_mu.Lock()
	defer p.last_mu.Unlock()
	return p.last
}

// Submit hands a decoded frame to the first stage and takes over the
// caller's reference
func (p *Pipeline) Submit(ctx context.Context, f *frame.Context) error {
	return p.stages[0].Submit(ctx, f)
}

// Out delivers annotations of every analyzed frame when OutCapacity is set.
// The receiver owns one reference to the annotation's frame.
func (p *Pipeline) Out() <-chan *report.Annotation { return p.out }

// Crossing exposes the detector for external resets, nil when disabled
func (p *Pipeline) Crossing() *crossing.Detector { return p.crossing }

// Run blocks until Close drained every stage or ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()
	defer p.cancel()

	eg, child_ctx := errgroup.WithContext(p.ctx)
	for _, d := range p.stages {
		eg.Go(func() error {
			err := d.Run(child_ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				// frames stuck behind a failed stage would never arrive
				p.cancel()
			}
			return err
		})
	}
	eg.Go(func() error {
		return p.analytics(child_ctx)
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil && p.ctx.Err() == nil {
		err = nil
	}
	return err
}

// Close stops intake and waits for the stages to drain in order
func (p *Pipeline) Close() {
	p.close_once.Do(func() {
		for _, d := range p.stages {
			d.Close()
		}
		close(p.done)
	})
}

func (p *Pipeline) analytics(ctx context.Context) error {
	logger := p.logger.With("coroutine", "analytics")
	defer func() {
		if p.debounce != nil {
			p.debounce.Close()
		}
		if p.out != nil {
			close(p.out)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			if p.reorder != nil {
				for _, r := range p.reorder.Flush() {
					r.Release()
				}
			}
			logger.Info("Analytics cancelled by context")
			return context.Canceled
		case f, ok := <-p.done:
			if !ok {
				if p.reorder != nil {
					for _, r := range p.reorder.Flush() {
						p.analyze(ctx, logger, r)
					}
				}
				logger.Debug("Input closed, analytics stopped", "analyzed", p.analyzed.Load())
				return nil
			}
			if p.reorder == nil {
				p.analyze(ctx, logger, f)
				continue
			}
			for _, r := range p.reorder.Push(f) {
				p.analyze(ctx, logger, r)
			}
			p.late.Store(p.reorder.Late())
		}
	}
}

func (p *Pipeline) detections(f *frame.Context) []frame.Detection {
	for _, r := range f.Results() {
		if r.Stage == p.cfg.TrackStage && !r.Failed {
			return r.Detections
		}
	}
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, logger *slog.Logger, f *frame.Context) {
	defer f.Release()
	p.analyzed.Add(1)

	if !f.Carried() && len(f.Results()) > 0 {
		snapshot := f.Snapshot()
		p.last_mu.Lock()
		p.last = snapshot
		p.last_mu.Unlock()
	}

	a := &report.Annotation{
		Source: p.cfg.Source,
		Frame:  f,
		Time:   f.Time,
	}
	detections := p.detections(f)
	if p.tracker != nil {
		p.tracker.Update(f.Time, detections)
		a.Tracks = p.tracker.Tracks()
	}
	if p.crossing != nil {
		a.Crossings = p.crossing.Update(f.Time, a.Tracks)
		a.Tallies = p.crossing.Tallies()
	}
	if p.debounce != nil {
		a.Signal = p.cfg.Signal.Eval(a.Tracks, detections, p.tracker != nil)
		a.Debounce = p.debounce.Push(a.Signal, f)
	}

	if report.Evaluate(a, p.cfg.Predicates) > report.PhaseNone {
		p.reported.Add(1)
		for _, sink := range p.cfg.Sinks {
			if err := sink.Send(ctx, a); err != nil {
				logger.Warn("Can't deliver report", "index", f.Index, "error", err)
			}
		}
	}

	if p.out == nil {
		return
	}
	f.Retain()
	select {
	case p.out <- a:
	default:
		p.out_dropped.Add(1)
		f.Release()
	}
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		Analyzed:   p.analyzed.Load(),
		Reported:   p.reported.Load(),
		Late:       p.late.Load(),
		OutDropped: p.out_dropped.Load(),
	}
	for _, d := range p.stages {
		s.Stages = append(s.Stages, d.Stats())
	}
	return s
}
