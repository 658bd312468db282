// Package tracker keeps persistent identities for detections across frames
// using two confidence tiers.
package tracker

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Robogera/analytics/pkg/assoc"
	"github.com/Robogera/analytics/pkg/frame"
)

var (
	ERR_BAD_THRESHOLDS error = errors.New("Invalid tracker thresholds")
)

type Config struct {
	// Detections at or above this score may spawn new tracks
	HighThresh float64
	// Detections below this score are ignored entirely
	TrackThresh float64
	// Minimal IoU for a track/detection pair
	MatchThresh  float64
	MaxFrameLost int
	Matcher      assoc.Method
}

func (c Config) Validate() error {
	var errs []error
	if c.TrackThresh < 0 || c.TrackThresh > 1 {
		errs = append(errs, fmt.Errorf("track_thresh %v not in [0, 1]", c.TrackThresh))
	}
	if c.HighThresh < c.TrackThresh || c.HighThresh > 1 {
		errs = append(errs, fmt.Errorf("high_thresh %v not in [track_thresh, 1]", c.HighThresh))
	}
	if c.MatchThresh <= 0 || c.MatchThresh > 1 {
		errs = append(errs, fmt.Errorf("match_thresh %v not in (0, 1]", c.MatchThresh))
	}
	if c.MaxFrameLost < 0 {
		errs = append(errs, fmt.Errorf("max_frame_lost %d is negative", c.MaxFrameLost))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ERR_BAD_THRESHOLDS, errors.Join(errs...))
	}
	return nil
}

type Track struct {
	ID      uint64
	Box     frame.Box
	ClassID int
	Score   float64
	Created time.Time
	Updated time.Time
	// consecutive frames without a matching detection
	Lost int
	Hits int
}

// Tracker is not safe for concurrent use, Update must be called once per
// frame in frame order.
type Tracker struct {
	cfg    Config
	last   uint64
	tracks []*Track
}

func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{cfg: cfg}, nil
}

func (t *Tracker) Config() Config { return t.cfg }

type tier []int

// Update feeds one frame worth of detections and returns every live track.
// Tracks that missed the frame are present with a non zero Lost counter.
func (t *Tracker) Update(now time.Time, detections []frame.Detection) map[uint64]Track {
	var high, low tier
	for i, d := range detections {
		switch {
		case d.Score >= t.cfg.HighThresh:
			high = append(high, i)
		case d.Score >= t.cfg.TrackThresh:
			low = append(low, i)
		}
	}

	matched := make([]bool, len(t.tracks))
	leftover := t.match(now, detections, high, matched)
	t.match(now, detections, low, matched)

	for ind, ok := range matched {
		if !ok {
			t.tracks[ind].Lost++
		}
	}
	t.tracks = slices.DeleteFunc(t.tracks, func(tr *Track) bool {
		return tr.Lost > t.cfg.MaxFrameLost
	})

	// only confident detections mint identities
	for _, ind := range leftover {
		d := detections[ind]
		t.last++
		t.tracks = append(t.tracks, &Track{
			ID:      t.last,
			Box:     d.Box,
			ClassID: d.ClassID,
			Score:   d.Score,
			Created: now,
			Updated: now,
			Hits:    1,
		})
	}
	return t.Snapshot()
}

// match associates the not yet matched tracks with the detections of one
// tier, class by class. Returns the detections left unmatched.
func (t *Tracker) match(now time.Time, detections []frame.Detection, candidates tier, matched []bool) []int {
	var leftover []int
	by_class := map[int][]int{}
	for _, ind := range candidates {
		by_class[detections[ind].ClassID] = append(by_class[detections[ind].ClassID], ind)
	}
	classes := make([]int, 0, len(by_class))
	for class := range by_class {
		classes = append(classes, class)
	}
	slices.Sort(classes)

	for _, class := range classes {
		dets := by_class[class]
		// tracks are kept sorted by id so ties go to the older track
		var track_inds []int
		var track_boxes []frame.Box
		for ind, tr := range t.tracks {
			if !matched[ind] && tr.ClassID == class {
				track_inds = append(track_inds, ind)
				track_boxes = append(track_boxes, tr.Box)
			}
		}
		det_boxes := make([]frame.Box, len(dets))
		for i, ind := range dets {
			det_boxes[i] = detections[ind].Box
		}

		res := assoc.Associate(t.cfg.Matcher, track_boxes, det_boxes, t.cfg.MatchThresh)
		for _, a := range res.Matches {
			ind := track_inds[a.Track]
			d := detections[dets[a.Det]]
			tr := t.tracks[ind]
			tr.Box = d.Box
			tr.Score = d.Score
			tr.Updated = now
			tr.Lost = 0
			tr.Hits++
			matched[ind] = true
		}
		for _, ind := range res.UnmatchedDets {
			leftover = append(leftover, dets[ind])
		}
	}
	slices.Sort(leftover)
	return leftover
}

func (t *Tracker) Snapshot() map[uint64]Track {
	out := make(map[uint64]Track, len(t.tracks))
	for _, tr := range t.tracks {
		out[tr.ID] = *tr
	}
	return out
}

// Tracks returns the live tracks ordered by id
func (t *Tracker) Tracks() []Track {
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = *tr
	}
	return out
}

func (t *Tracker) Len() int { return len(t.tracks) }
