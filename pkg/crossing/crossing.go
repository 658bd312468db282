// Package crossing counts directional traversals of border lines by tracks.
package crossing

import (
	"fmt"
	"time"

	"github.com/Robogera/analytics/pkg/gring"
	"github.com/Robogera/analytics/pkg/tracker"
)

const (
	DefaultHistoryCap = 150
	DefaultStaleAfter = 60 * time.Second
)

type Direction int

const (
	LeftToRight Direction = iota
	RightToLeft
)

func (d Direction) String() string {
	if d == LeftToRight {
		return "left_to_right"
	}
	return "right_to_left"
}

type Config struct {
	Lines      []Line
	HistoryCap int
	StaleAfter time.Duration
	// class id to label, ids outside the slice are printed as numbers
	Labels []string
}

type Event struct {
	Line      string
	LineIndex int
	TrackID   uint64
	ClassID   int
	Label     string
	Direction Direction
	Time      time.Time
}

// Tally counts crossings of one class over one line. Left holds
// left-to-right crossings, Right holds right-to-left ones.
type Tally struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type key struct {
	track uint64
	line  int
}

type record struct {
	history *gring.Ring[Zone]
	updated time.Time
}

// Detector is not safe for concurrent use
type Detector struct {
	cfg     Config
	records map[key]*record
	tallies []map[string]*Tally
}

func New(cfg Config) (*Detector, error) {
	for i, l := range cfg.Lines {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("Line %d: %w", i, err)
		}
	}
	if cfg.HistoryCap < 1 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	d := &Detector{cfg: cfg}
	d.Reset()
	return d, nil
}

func (d *Detector) Lines() []Line { return d.cfg.Lines }

// Reset drops every history and zeroes the tallies
func (d *Detector) Reset() {
	d.records = make(map[key]*record)
	d.tallies = make([]map[string]*Tally, len(d.cfg.Lines))
	for i := range d.tallies {
		d.tallies[i] = make(map[string]*Tally)
	}
}

func (d *Detector) label(class int) string {
	if class >= 0 && class < len(d.cfg.Labels) {
		return d.cfg.Labels[class]
	}
	return fmt.Sprintf("%d", class)
}

// Update classifies every track that was matched this frame against every
// line and returns the crossings confirmed by it.
func (d *Detector) Update(now time.Time, tracks []tracker.Track) []Event {
	var events []Event
	for _, tr := range tracks {
		if tr.Lost > 0 {
			continue
		}
		center := tr.Box.Center()
		for ind, line := range d.cfg.Lines {
			zone, ok := line.Classify(center)
			if !ok {
				continue
			}
			k := key{track: tr.ID, line: ind}
			rec, found := d.records[k]
			if !found {
				rec = &record{history: gring.NewRing[Zone](d.cfg.HistoryCap)}
				d.records[k] = rec
			}
			rec.updated = tr.Updated

			direction, crossed := confirm(rec.history, zone)
			rec.history.Push(zone)
			if !crossed {
				continue
			}
			rec.history.Clear()

			label := d.label(tr.ClassID)
			tally, found := d.tallies[ind][label]
			if !found {
				tally = &Tally{}
				d.tallies[ind][label] = tally
			}
			if direction == LeftToRight {
				tally.Left++
			} else {
				tally.Right++
			}
			events = append(events, Event{
				Line:      line.Name,
				LineIndex: ind,
				TrackID:   tr.ID,
				ClassID:   tr.ClassID,
				Label:     label,
				Direction: direction,
				Time:      now,
			})
		}
	}
	d.purge(now)
	return events
}

// A zone opposite to any earlier one confirms a crossing, intervening
// entries don't matter
func confirm(history *gring.Ring[Zone], zone Zone) (Direction, bool) {
	switch zone {
	case Right:
		if history.Any(func(z Zone) bool { return z == Left }) {
			return LeftToRight, true
		}
	case Left:
		if history.Any(func(z Zone) bool { return z == Right }) {
			return RightToLeft, true
		}
	}
	return LeftToRight, false
}

func (d *Detector) purge(now time.Time) {
	for k, rec := range d.records {
		if now.Sub(rec.updated) > d.cfg.StaleAfter {
			delete(d.records, k)
		}
	}
}

// Tallies copies the counters, keyed by line name and class label
func (d *Detector) Tallies() map[string]map[string]Tally {
	out := make(map[string]map[string]Tally, len(d.tallies))
	for ind, per_class := range d.tallies {
		name := d.cfg.Lines[ind].Name
		if name == "" {
			name = fmt.Sprintf("line_%d", ind)
		}
		m := make(map[string]Tally, len(per_class))
		for label, tally := range per_class {
			m[label] = *tally
		}
		out[name] = m
	}
	return out
}

// History returns the zones recorded for a track on a line, oldest first
func (d *Detector) History(track uint64, line int) []Zone {
	rec, found := d.records[key{track: track, line: line}]
	if !found {
		return nil
	}
	var zones []Zone
	for z := range rec.history.Chronological() {
		zones = append(zones, z)
	}
	return zones
}
