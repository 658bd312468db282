// Package debounce turns a noisy per-frame boolean into started / continuing
// / ended events evaluated once per window.
package debounce

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Robogera/analytics/pkg/frame"
	"gonum.org/v1/gonum/floats"
)

var (
	ERR_BAD_CONFIG error = errors.New("Invalid debounce config")
)

type Transition int

const (
	None Transition = iota
	Started
	Continuing
	Ended
)

func (t Transition) String() string {
	switch t {
	case Started:
		return "started"
	case Continuing:
		return "continuing"
	case Ended:
		return "ended"
	}
	return "none"
}

type Config struct {
	Interval  time.Duration
	FrameRate float64
	// share of true frames in a window needed to call it active
	Threshold  float64
	HoldTime   time.Duration
	MaxRepeats int

	ReportOnStart    bool
	ReportOnContinue bool
	ReportOnEnd      bool
}

func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval %s must be positive", c.Interval))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame rate %v must be positive", c.FrameRate))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v not in [0, 1]", c.Threshold))
	}
	if c.MaxRepeats < 0 {
		errs = append(errs, fmt.Errorf("max repeats %d is negative", c.MaxRepeats))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ERR_BAD_CONFIG, errors.Join(errs...))
	}
	return nil
}

// WindowSize is interval × frame rate rounded, at least one frame
func (c Config) WindowSize() int {
	return max(1, int(math.Round(c.Interval.Seconds()*c.FrameRate)))
}

type Result struct {
	// Evaluated is set on the frames that completed a window
	Evaluated  bool
	Ratio      float64
	Transition Transition
	Reportable bool
	// Last frame seen true for Started and Continuing, last seen false for
	// Ended. Valid until the next Push.
	Frame *frame.Context
}

// Debouncer is not safe for concurrent use
type Debouncer struct {
	cfg    Config
	size   int
	window []float64

	status     int
	remaining  int
	continuing time.Duration

	last_true, last_false *frame.Context
}

func New(cfg Config) (*Debouncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size := cfg.WindowSize()
	return &Debouncer{
		cfg:    cfg,
		size:   size,
		window: make([]float64, 0, size),
	}, nil
}

func (d *Debouncer) WindowSize() int { return d.size }

// Active reports the group status of the last evaluated window
func (d *Debouncer) Active() bool { return d.status == 1 }

// Push records the signal of one frame. f may be nil.
func (d *Debouncer) Push(signal bool, f *frame.Context) Result {
	sample := 0.0
	if signal {
		sample = 1
		d.keep(&d.last_true, f)
	} else {
		d.keep(&d.last_false, f)
	}
	d.window = append(d.window, sample)
	if len(d.window) < d.size {
		return Result{}
	}

	ratio := floats.Sum(d.window) / float64(len(d.window))
	d.window = d.window[:0]
	status := 0
	if ratio >= d.cfg.Threshold {
		status = 1
	}
	previous := d.status
	d.status = status

	res := Result{Evaluated: true, Ratio: ratio}
	switch {
	case previous == 0 && status == 1:
		d.remaining = d.cfg.MaxRepeats
		d.continuing = 0
		res.Transition = Started
		res.Reportable = d.cfg.ReportOnStart
		res.Frame = d.last_true
	case previous == 1 && status == 1:
		d.continuing += d.cfg.Interval
		if d.continuing >= d.cfg.HoldTime && d.remaining > 0 {
			d.remaining--
			d.continuing = 0
			res.Transition = Continuing
			res.Reportable = d.cfg.ReportOnContinue
			res.Frame = d.last_true
		}
	case previous == 1 && status == 0:
		res.Transition = Ended
		res.Reportable = d.cfg.ReportOnEnd
		res.Frame = d.last_false
	}
	return res
}

func (d *Debouncer) keep(slot **frame.Context, f *frame.Context) {
	if f == nil {
		return
	}
	f.Retain()
	if *slot != nil {
		(*slot).Release()
	}
	*slot = f
}

// Close drops the frames held for upcoming events
func (d *Debouncer) Close() {
	for _, slot := range []**frame.Context{&d.last_true, &d.last_false} {
		if *slot != nil {
			(*slot).Release()
			*slot = nil
		}
	}
}
