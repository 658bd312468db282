package assoc

import (
	"math/rand/v2"
	"testing"

	"github.com/Robogera/analytics/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func BenchmarkAssoc(b *testing.B) {
	tracks := make([]frame.Box, 0, 32)
	dets := make([]frame.Box, 0, 40)
	for range 32 {
		x, y := rand.Float64()*1200, rand.Float64()*700
		tracks = append(tracks, frame.NewBox(x, y, 40, 80))
		dets = append(dets, frame.NewBox(x+rand.Float64()*6, y+rand.Float64()*6, 40, 80))
	}
	for range 8 {
		dets = append(dets, frame.NewBox(rand.Float64()*1200, rand.Float64()*700, 40, 80))
	}
	b.ResetTimer()
	for range b.N {
		Associate(Greedy, tracks, dets, 0.3)
	}
}

func TestGreedyPrefersHighestOverlap(t *testing.T) {
	tracks := []frame.Box{
		frame.NewBox(0, 0, 10, 10),
		frame.NewBox(2, 0, 10, 10),
	}
	// det 0 overlaps track 1 better than track 0
	dets := []frame.Box{
		frame.NewBox(2, 0, 10, 10),
		frame.NewBox(100, 100, 10, 10),
	}
	res := Associate(Greedy, tracks, dets, 0.3)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 1, res.Matches[0].Track)
	assert.Equal(t, 0, res.Matches[0].Det)
	assert.InDelta(t, 1.0, res.Matches[0].IoU, 1e-9)
	assert.Equal(t, []int{0}, res.UnmatchedTracks)
	assert.Equal(t, []int{1}, res.UnmatchedDets)
}

func TestGreedyTieBreak(t *testing.T) {
	box := frame.NewBox(0, 0, 10, 10)
	res := Associate(Greedy, []frame.Box{box, box}, []frame.Box{box}, 0.5)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 0, res.Matches[0].Track, "equal overlap goes to the lower track index")
}

func TestHungarianFindsGlobalOptimum(t *testing.T) {
	// greedy takes (0,0) at 0.82 and strands track 1, the optimum pairs both
	tracks := []frame.Box{
		frame.NewBox(0, 0, 10, 10),
		frame.NewBox(3, 0, 10, 10),
	}
	dets := []frame.Box{
		frame.NewBox(1, 0, 10, 10),
		frame.NewBox(-3, 0, 10, 10),
	}
	greedy := Associate(Greedy, tracks, dets, 0.4)
	optimal := Associate(Hungarian, tracks, dets, 0.4)
	t.Logf("greedy: %+v", greedy.Matches)
	t.Logf("hungarian: %+v", optimal.Matches)

	require.Len(t, greedy.Matches, 1)
	require.Len(t, optimal.Matches, 2)
	sum := func(matches []Assoc) float64 {
		s := 0.0
		for _, m := range matches {
			s += m.IoU
		}
		return s
	}
	assert.GreaterOrEqual(t, sum(optimal.Matches), sum(greedy.Matches))
	assert.Empty(t, optimal.UnmatchedTracks)
	assert.Empty(t, optimal.UnmatchedDets)
}

func TestNoOverlap(t *testing.T) {
	tracks := []frame.Box{frame.NewBox(0, 0, 10, 10)}
	dets := []frame.Box{frame.NewBox(50, 50, 10, 10)}
	for _, method := range []Method{Greedy, Hungarian} {
		res := Associate(method, tracks, dets, 0.1)
		assert.Empty(t, res.Matches)
		assert.Equal(t, []int{0}, res.UnmatchedTracks)
		assert.Equal(t, []int{0}, res.UnmatchedDets)
	}
}

func TestEmptyInputs(t *testing.T) {
	res := Associate(Hungarian, nil, []frame.Box{frame.NewBox(0, 0, 1, 1)}, 0.1)
	assert.Empty(t, res.Matches)
	assert.Equal(t, []int{0}, res.UnmatchedDets)
	res = Associate(Greedy, []frame.Box{frame.NewBox(0, 0, 1, 1)}, nil, 0.1)
	assert.Equal(t, []int{0}, res.UnmatchedTracks)
}

func TestIoUMatrixSkipsFarPairs(t *testing.T) {
	tracks := []frame.Box{frame.NewBox(0, 0, 10, 10), frame.NewBox(500, 500, 10, 10)}
	dets := []frame.Box{frame.NewBox(5, 5, 10, 10)}
	m := IoUMatrix(tracks, dets)
	assert.Greater(t, m.At(0, 0), 0.0)
	assert.Zero(t, m.At(1, 0))
}
