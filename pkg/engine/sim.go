package engine

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Robogera/analytics/pkg/frame"
)

type SimConfig struct {
	Kind       frame.Kind
	LoadDelay  time.Duration
	LoadErr    error
	MinLatency time.Duration
	MaxLatency time.Duration
	// nil means the model never finds anything
	Detect func(in Input) ([]frame.Detection, error)
}

// Sim is an engine without a model. Asynchronous completions run on their
// own goroutines after a random latency, so they arrive out of order.
type Sim struct {
	cfg    SimConfig
	loaded atomic.Bool
	calls  atomic.Int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSim(cfg SimConfig) *Sim {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &Sim{cfg: cfg}
}

func (s *Sim) Kind() frame.Kind { return s.cfg.Kind }

// Calls returns how many inferences were run so far
func (s *Sim) Calls() int64 { return s.calls.Load() }

func (s *Sim) LoadAsync() <-chan error {
	loaded := make(chan error, 1)
	go func() {
		if s.cfg.LoadDelay > 0 {
			time.Sleep(s.cfg.LoadDelay)
		}
		if s.cfg.LoadErr == nil {
			s.loaded.Store(true)
		}
		loaded <- s.cfg.LoadErr
		close(loaded)
	}()
	return loaded
}

func (s *Sim) latency() time.Duration {
	spread := s.cfg.MaxLatency - s.cfg.MinLatency
	if spread <= 0 {
		return s.cfg.MinLatency
	}
	return s.cfg.MinLatency + time.Duration(rand.Int64N(int64(spread)))
}

func (s *Sim) detect(in Input) ([]frame.Detection, error) {
	s.calls.Add(1)
	if s.cfg.Detect == nil {
		return nil, nil
	}
	return s.cfg.Detect(in)
}

func (s *Sim) InferSync(ctx context.Context, in Input) ([]frame.Detection, error) {
	if !s.loaded.Load() {
		return nil, ERR_NOT_LOADED
	}
	if d := s.latency(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return s.detect(in)
}

func (s *Sim) InferAsync(in Input, seq uint64, done Callback) error {
	if !s.loaded.Load() {
		return ERR_NOT_LOADED
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ERR_CLOSED
	}
	s.wg.Add(1)
	go func(d time.Duration) {
		defer s.wg.Done()
		if d > 0 {
			time.Sleep(d)
		}
		detections, err := s.detect(in)
		done(seq, detections, err)
	}(s.latency())
	return nil
}

// Close waits for outstanding completions
func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
