// Package report decides which annotated frames are worth reporting and
// ships them to sinks.
package report

import (
	"time"

	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/debounce"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/tracker"
)

// Phase is ordered by severity, the pipeline keeps the highest one
type Phase int

const (
	PhaseNone Phase = iota
	PhaseEnded
	PhaseContinuing
	PhaseStarted
)

func (p Phase) String() string {
	switch p {
	case PhaseEnded:
		return "ended"
	case PhaseContinuing:
		return "continuing"
	case PhaseStarted:
		return "started"
	}
	return "none"
}

// Annotation is everything the analytics stages produced for one frame
type Annotation struct {
	Source    string
	Frame     *frame.Context
	Time      time.Time
	Tracks    []tracker.Track
	Crossings []crossing.Event
	// line name → class label → counts since start or last reset
	Tallies  map[string]map[string]crossing.Tally
	Debounce debounce.Result
	Signal   bool

	Phase      Phase
	Reportable bool
}

// EventFrame is the frame a report should show: the one the debouncer kept
// for its transition when there is one, the current frame otherwise.
func (a *Annotation) EventFrame() *frame.Context {
	if a.Debounce.Transition != debounce.None && a.Debounce.Frame != nil {
		return a.Debounce.Frame
	}
	return a.Frame
}

// Predicate inspects an annotation and returns the phase it calls for.
// Predicates must not modify the annotation.
type Predicate func(*Annotation) Phase

// Evaluate runs the predicates in order and stores the highest phase
func Evaluate(a *Annotation, predicates []Predicate) Phase {
	phase := PhaseNone
	for _, p := range predicates {
		phase = max(phase, p(a))
	}
	a.Phase = phase
	a.Reportable = phase > PhaseNone
	return phase
}

// OnCrossing fires for every frame that confirmed at least one crossing
func OnCrossing() Predicate {
	return func(a *Annotation) Phase {
		if len(a.Crossings) > 0 {
			return PhaseStarted
		}
		return PhaseNone
	}
}

// OnDebounce maps enabled debounce transitions to phases
func OnDebounce() Predicate {
	return func(a *Annotation) Phase {
		if !a.Debounce.Reportable {
			return PhaseNone
		}
		switch a.Debounce.Transition {
		case debounce.Started:
			return PhaseStarted
		case debounce.Continuing:
			return PhaseContinuing
		case debounce.Ended:
			return PhaseEnded
		}
		return PhaseNone
	}
}

// MinTracks fires while at least n tracks are visible
func MinTracks(n int, phase Phase) Predicate {
	return func(a *Annotation) Phase {
		visible := 0
		for _, tr := range a.Tracks {
			if tr.Lost == 0 {
				visible++
			}
		}
		if n > 0 && visible >= n {
			return phase
		}
		return PhaseNone
	}
}
