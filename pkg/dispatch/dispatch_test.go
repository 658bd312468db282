package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type sink struct {
	mu     sync.Mutex
	frames []*frame.Context
}

func (s *sink) forward(f *frame.Context) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *sink) all() []*frame.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*frame.Context(nil), s.frames...)
}

func start(t *testing.T, d *Dispatcher) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitLoaded(t *testing.T, d *Dispatcher) {
	require.Eventually(t, d.Loaded, time.Second, time.Millisecond)
}

func TestBackpressureBound(t *testing.T) {
	const hwm = 5
	slow := engine.NewSim(engine.SimConfig{MinLatency: 5 * time.Millisecond, MaxLatency: 10 * time.Millisecond})
	out := &sink{}
	d, err := New(Config{HighWaterMark: hwm, MaxInFlightPerLane: 1}, discard, []engine.Engine{slow}, nil, out.forward)
	require.NoError(t, err)
	_, done := start(t, d)
	waitLoaded(t, d)

	const total = 300
	peak := 0
	for i := range total {
		f := frame.New(uint64(i), time.Now(), frame.TaskStream, 25, nil, nil)
		require.NoError(t, d.Submit(context.Background(), f))
		peak = max(peak, d.Stats().QueueDepth)
	}
	d.Close()
	require.NoError(t, <-done)

	stats := d.Stats()
	t.Logf("Stats: %+v", stats)
	assert.LessOrEqual(t, peak, hwm)
	assert.Positive(t, stats.Dropped, "a producer faster than the lane must shed frames")
	assert.Equal(t, int64(total), stats.Forwarded+stats.Dropped)
	assert.Equal(t, int(stats.Forwarded), out.len())
}

func TestRateControlCarriesResults(t *testing.T) {
	sim := engine.NewSim(engine.SimConfig{
		Detect: func(in engine.Input) ([]frame.Detection, error) {
			return []frame.Detection{{ClassID: int(in.Frame.Index), Score: 1}}, nil
		},
	})
	out := &sink{}
	d, err := New(Config{VideoRate: 25, TargetRate: 5, HighWaterMark: 10, MaxInFlightPerLane: 1},
		discard, []engine.Engine{sim}, nil, out.forward)
	require.NoError(t, err)
	_, done := start(t, d)
	waitLoaded(t, d)

	for i := range 10 {
		// wait for the previous inference so the carry source is stable
		require.NoError(t, d.Submit(context.Background(), frame.New(uint64(i), time.Now(), frame.TaskStream, 0, nil, nil)))
		require.Eventually(t, func() bool { return out.len() == i+1 }, time.Second, time.Millisecond)
	}
	d.Close()
	require.NoError(t, <-done)

	assert.Equal(t, int64(2), sim.Calls())
	frames := out.all()
	for _, f := range frames {
		require.Len(t, f.Results(), 1, "frame %d", f.Index)
		r := f.Results()[0]
		inferred := f.Index%5 == 0
		assert.Equal(t, !inferred, r.Carried, "frame %d", f.Index)
		assert.Equal(t, int(f.Index-f.Index%5), r.Detections[0].ClassID, "frame %d", f.Index)
	}
	assert.Equal(t, int64(8), d.Stats().Skipped)
}

func TestFractionalRatio(t *testing.T) {
	d := &Dispatcher{cfg: Config{VideoRate: 25, TargetRate: 10}}
	inferred := 0
	for i := range 25 {
		if d.infer(&frame.Context{Index: uint64(i)}) {
			inferred++
		}
	}
	assert.Equal(t, 10, inferred)

	d.cfg.TargetRate = 0
	assert.True(t, d.infer(&frame.Context{Index: 7}))
	d.cfg.TargetRate = 30
	assert.True(t, d.infer(&frame.Context{Index: 7}))
}

func TestStreamPassesThroughBeforeLoad(t *testing.T) {
	sim := engine.NewSim(engine.SimConfig{
		LoadDelay: 50 * time.Millisecond,
		Detect: func(in engine.Input) ([]frame.Detection, error) {
			return []frame.Detection{{Score: 1}}, nil
		},
	})
	out := &sink{}
	d, err := New(Config{HighWaterMark: 4}, discard, []engine.Engine{sim}, nil, out.forward)
	require.NoError(t, err)
	_, done := start(t, d)

	f := frame.New(0, time.Now(), frame.TaskStream, 25, nil, nil)
	require.NoError(t, d.Submit(context.Background(), f))
	require.Equal(t, 1, out.len())
	require.Len(t, f.Results(), 1, "stream frames are forwarded with a placeholder until the model is ready")
	assert.True(t, f.Results()[0].Gated)
	assert.Empty(t, f.Results()[0].Detections)
	assert.True(t, f.Carried())

	// one-shot tasks wait for the model instead
	img := frame.New(1, time.Now(), frame.TaskImage, 0, nil, nil)
	require.NoError(t, d.Submit(context.Background(), img))
	require.Eventually(t, func() bool { return out.len() == 2 }, time.Second, time.Millisecond)
	require.Len(t, img.Results(), 1)
	assert.Len(t, img.Results()[0].Detections, 1)

	d.Close()
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), d.Stats().Gated)
}

func TestRateSkipWithNothingToCarry(t *testing.T) {
	sim := engine.NewSim(engine.SimConfig{Kind: frame.KindPose})
	out := &sink{}
	d, err := New(Config{VideoRate: 10, TargetRate: 2, HighWaterMark: 4}, discard, []engine.Engine{sim}, nil, out.forward)
	require.NoError(t, err)
	d.SetCarrySource(func() []frame.StageResult { return nil })

	f := frame.New(1, time.Now(), frame.TaskExport, 0, nil, nil)
	require.NoError(t, d.Submit(context.Background(), f))
	require.Equal(t, 1, out.len())
	require.Len(t, f.Results(), 1)
	r := f.Results()[0]
	assert.True(t, r.Carried)
	assert.Equal(t, frame.KindPose, r.Kind)
	assert.Zero(t, r.Stage)
	assert.True(t, f.Carried())
	assert.Zero(t, sim.Calls())
}

func TestLaterStageCarriesOnlyItsOwnResults(t *testing.T) {
	sim := engine.NewSim(engine.SimConfig{Kind: frame.KindClassification})
	out := &sink{}
	d, err := New(Config{Stage: 1, VideoRate: 10, TargetRate: 2, HighWaterMark: 4}, discard, []engine.Engine{sim}, nil, out.forward)
	require.NoError(t, err)
	d.SetCarrySource(func() []frame.StageResult {
		return []frame.StageResult{
			{Stage: 0, Kind: frame.KindDetection, Detections: []frame.Detection{{ID: 0}}},
			{Stage: 1, Kind: frame.KindClassification, Detections: []frame.Detection{{ParentID: 0, ClassID: 4}}},
		}
	})

	f := frame.New(1, time.Now(), frame.TaskExport, 0, nil, nil)
	f.Append(frame.StageResult{Kind: frame.KindDetection})
	require.NoError(t, d.Submit(context.Background(), f))
	results := f.Results()
	require.Len(t, results, 2)
	assert.False(t, results[0].Carried, "the fresh first stage result is kept")
	assert.True(t, results[1].Carried)
	assert.Equal(t, 4, results[1].Detections[0].ClassID)
}

func TestLaterStagePassesFramesWithoutEarlierResults(t *testing.T) {
	sim := engine.NewSim(engine.SimConfig{Kind: frame.KindClassification})
	out := &sink{}
	d, err := New(Config{Stage: 1, HighWaterMark: 4}, discard, []engine.Engine{sim}, nil, out.forward)
	require.NoError(t, err)
	_, done := start(t, d)
	waitLoaded(t, d)

	f := frame.New(0, time.Now(), frame.TaskImage, 0, nil, nil)
	require.NoError(t, d.Submit(context.Background(), f))
	require.Equal(t, 1, out.len())
	assert.Empty(t, f.Results())
	assert.Zero(t, sim.Calls())

	d.Close()
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), d.Stats().Skipped)
}

func TestLoadFailure(t *testing.T) {
	boom := errors.New("weights missing")
	sim := engine.NewSim(engine.SimConfig{LoadErr: boom})
	out := &sink{}
	d, err := New(Config{}, discard, []engine.Engine{sim}, nil, out.forward)
	require.NoError(t, err)
	_, done := start(t, d)

	run_err := <-done
	require.ErrorIs(t, run_err, ERR_MODEL_LOAD_FAILED)
	require.ErrorIs(t, run_err, boom)

	f := frame.New(0, time.Now(), frame.TaskImage, 0, nil, nil)
	require.ErrorIs(t, d.Submit(context.Background(), f), ERR_MODEL_LOAD_FAILED)
	assert.Zero(t, f.Refs(), "a refused frame is released")
	assert.False(t, d.Loaded())
}

func TestSharedSequencer(t *testing.T) {
	seq := new(Sequencer)
	out := &sink{}
	var lanes []engine.Engine
	for range 3 {
		lanes = append(lanes, engine.NewSim(engine.SimConfig{MaxLatency: time.Millisecond}))
	}
	d, err := New(Config{HighWaterMark: 64, MaxInFlightPerLane: 4}, discard, lanes, seq, out.forward)
	require.NoError(t, err)
	_, done := start(t, d)
	waitLoaded(t, d)

	for i := range 60 {
		require.NoError(t, d.Submit(context.Background(), frame.New(uint64(i), time.Now(), frame.TaskExport, 0, nil, nil)))
	}
	d.Close()
	require.NoError(t, <-done)

	frames := out.all()
	require.Len(t, frames, 60)
	seen := map[uint64]bool{}
	for _, f := range frames {
		require.False(t, seen[f.Seq], "sequence %d handed out twice", f.Seq)
		seen[f.Seq] = true
	}
	total := int64(0)
	for _, l := range d.Stats().Lanes {
		total += l.Completed
	}
	assert.Equal(t, int64(60), total)
}

func TestSubmitAfterClose(t *testing.T) {
	d, err := New(Config{}, discard, []engine.Engine{engine.NewSim(engine.SimConfig{})}, nil, func(*frame.Context) {})
	require.NoError(t, err)
	_, done := start(t, d)
	waitLoaded(t, d)
	d.Close()
	require.NoError(t, <-done)

	f := frame.New(0, time.Now(), frame.TaskStream, 25, nil, nil)
	require.ErrorIs(t, d.Submit(context.Background(), f), ERR_CLOSED)
	assert.Zero(t, f.Refs())
}

func TestNoLanes(t *testing.T) {
	_, err := New(Config{}, discard, nil, nil, func(*frame.Context) {})
	require.ErrorIs(t, err, ERR_NO_LANES)
}
