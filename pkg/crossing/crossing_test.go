package crossing

import (
	"testing"
	"time"

	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func verticalLine(t *testing.T) Line {
	l, err := NewLine("door", [][2]float64{{0, 100}, {0, 0}}, 0)
	require.NoError(t, err)
	return l
}

func at(id uint64, x, y float64, now time.Time) tracker.Track {
	return tracker.Track{ID: id, Box: frame.NewBox(x-5, y-5, 10, 10), Updated: now}
}

func walk(d *Detector, id uint64, from, to float64, start time.Time) []Event {
	var events []Event
	step := 1.0
	if to < from {
		step = -1
	}
	now := start
	for x := from; (step > 0 && x <= to) || (step < 0 && x >= to); x += step {
		now = now.Add(40 * time.Millisecond)
		events = append(events, d.Update(now, []tracker.Track{at(id, x, 50, now)})...)
	}
	return events
}

func TestClassify(t *testing.T) {
	l := verticalLine(t)
	zone, ok := l.Classify(r2.Vec{X: -10, Y: 50})
	require.True(t, ok)
	assert.Equal(t, Left, zone)
	zone, _ = l.Classify(r2.Vec{X: 10, Y: 50})
	assert.Equal(t, Right, zone)
	zone, _ = l.Classify(r2.Vec{X: 0, Y: 50})
	assert.Equal(t, Middle, zone)

	_, ok = l.Classify(r2.Vec{X: -10, Y: 150})
	assert.False(t, ok, "projection beyond the endpoint")
	_, ok = l.Classify(r2.Vec{X: -10, Y: -1})
	assert.False(t, ok)

	l.Margin = 5
	zone, _ = l.Classify(r2.Vec{X: 4, Y: 50})
	assert.Equal(t, Middle, zone)
	dist, _ := l.Distance(r2.Vec{X: -7, Y: 10})
	assert.InDelta(t, -7, dist, 1e-9)
}

func TestCrossingDeterminism(t *testing.T) {
	d, err := New(Config{Lines: []Line{verticalLine(t)}, Labels: []string{"person"}})
	require.NoError(t, err)
	start := time.Now()

	events := walk(d, 1, -10, 10, start)
	require.Len(t, events, 1)
	assert.Equal(t, LeftToRight, events[0].Direction)
	assert.Equal(t, "person", events[0].Label)
	// history was cleared on confirmation, only the frames after it remain
	assert.NotContains(t, d.History(1, 0), Left)

	events = walk(d, 2, -10, 10, start.Add(time.Second))
	require.Len(t, events, 1, "replay is an independent crossing")
	assert.Equal(t, Tally{Left: 2}, d.Tallies()["door"]["person"])
}

func TestReverseCrossing(t *testing.T) {
	d, err := New(Config{Lines: []Line{verticalLine(t)}})
	require.NoError(t, err)
	events := walk(d, 7, 10, -10, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, RightToLeft, events[0].Direction)
	assert.Equal(t, Tally{Right: 1}, d.Tallies()["door"]["0"])
}

func TestMarginJitterDoesNotCount(t *testing.T) {
	l := verticalLine(t)
	l.Margin = 3
	d, err := New(Config{Lines: []Line{l}})
	require.NoError(t, err)
	now := time.Now()
	for i := range 50 {
		x := 2.0
		if i%2 == 0 {
			x = -2
		}
		now = now.Add(40 * time.Millisecond)
		require.Empty(t, d.Update(now, []tracker.Track{at(1, x, 50, now)}))
	}
	assert.Len(t, d.History(1, 0), 50)
}

func TestOffSegmentIgnored(t *testing.T) {
	d, err := New(Config{Lines: []Line{verticalLine(t)}})
	require.NoError(t, err)
	now := time.Now()
	for x := -10.0; x <= 10; x++ {
		now = now.Add(40 * time.Millisecond)
		assert.Empty(t, d.Update(now, []tracker.Track{at(1, x, 200, now)}))
	}
	assert.Empty(t, d.History(1, 0))
}

func TestLostTracksAreNotFed(t *testing.T) {
	d, err := New(Config{Lines: []Line{verticalLine(t)}})
	require.NoError(t, err)
	now := time.Now()
	d.Update(now, []tracker.Track{at(1, -10, 50, now)})
	lost := at(1, 10, 50, now)
	lost.Lost = 1
	assert.Empty(t, d.Update(now, []tracker.Track{lost}))
	assert.Equal(t, []Zone{Left}, d.History(1, 0))
}

func TestHistoryCapAndStalePurge(t *testing.T) {
	d, err := New(Config{Lines: []Line{verticalLine(t)}, HistoryCap: 4, StaleAfter: time.Minute})
	require.NoError(t, err)
	now := time.Now()
	for range 10 {
		d.Update(now, []tracker.Track{at(1, 0, 50, now)})
	}
	assert.Len(t, d.History(1, 0), 4)

	// the track stops being updated, its record goes after a minute
	d.Update(now.Add(59*time.Second), nil)
	assert.NotEmpty(t, d.History(1, 0))
	d.Update(now.Add(61*time.Second), nil)
	assert.Empty(t, d.History(1, 0))
}

func TestOldestLeftFallsOutOfHistory(t *testing.T) {
	l := verticalLine(t)
	l.Margin = 1
	d, err := New(Config{Lines: []Line{l}, HistoryCap: 3})
	require.NoError(t, err)
	now := time.Now()
	d.Update(now, []tracker.Track{at(1, -10, 50, now)})
	for range 3 {
		d.Update(now, []tracker.Track{at(1, 0, 50, now)})
	}
	assert.Empty(t, d.Update(now, []tracker.Track{at(1, 10, 50, now)}))
}

func TestReset(t *testing.T) {
	d, err := New(Config{Lines: []Line{verticalLine(t)}})
	require.NoError(t, err)
	walk(d, 1, -10, 10, time.Now())
	require.NotEmpty(t, d.Tallies()["door"])
	d.Reset()
	assert.Empty(t, d.Tallies()["door"])
	assert.Empty(t, d.History(1, 0))
}

func TestBadLines(t *testing.T) {
	_, err := NewLine("short", [][2]float64{{0, 0}}, 0)
	assert.ErrorIs(t, err, ERR_BAD_LINE)
	_, err = NewLine("dot", [][2]float64{{1, 1}, {1, 1}}, 0)
	assert.ErrorIs(t, err, ERR_BAD_LINE)
	_, err = New(Config{Lines: []Line{{Name: "neg", P0: r2.Vec{}, P1: r2.Vec{X: 1}, Margin: -1}}})
	assert.ErrorIs(t, err, ERR_BAD_LINE)
}
