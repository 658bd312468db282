// Package assoc pairs existing tracks with fresh detections by box overlap.
package assoc

import (
	"cmp"
	"math"
	"slices"

	hung "github.com/arthurkushman/go-hungarian"
	flatbush "github.com/bmharper/flatbush-go"

	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/gmat"
)

type Method int

const (
	// highest overlap first, ties broken by track then detection order
	Greedy Method = iota
	// globally optimal assignment maximising the summed overlap
	Hungarian
)

type Assoc struct {
	Track, Det int
	IoU        float64
}

// Result indices refer to the slices handed to Associate
type Result struct {
	Matches         []Assoc
	UnmatchedTracks []int
	UnmatchedDets   []int
}

// IoUMatrix builds the tracks × detections overlap matrix. Only pairs whose
// boxes touch according to a spatial index over the detections are
// computed, the rest stay zero.
func IoUMatrix(tracks, dets []frame.Box) *gmat.Mat[float64] {
	m := gmat.NewMat[float64](len(tracks), len(dets))
	if len(tracks) == 0 || len(dets) == 0 {
		return m
	}
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(dets))
	for _, d := range dets {
		minx, miny, maxx, maxy := bounds(d)
		fb.Add(minx, miny, maxx, maxy)
	}
	fb.Finish()

	var nearby []int
	for ind_t, tb := range tracks {
		minx, miny, maxx, maxy := bounds(tb)
		nearby = fb.SearchFast(minx, miny, maxx, maxy, nearby[:0])
		for _, ind_d := range nearby {
			m.Set(ind_t, ind_d, tb.IoU(dets[ind_d]))
		}
	}
	return m
}

func bounds(b frame.Box) (int32, int32, int32, int32) {
	return int32(math.Floor(b.X1)), int32(math.Floor(b.Y1)),
		int32(math.Ceil(b.X2)), int32(math.Ceil(b.Y2))
}

// Associate matches tracks to detections, a pair qualifies when its IoU is
// at least threshold.
func Associate(method Method, tracks, dets []frame.Box, threshold float64) Result {
	m := IoUMatrix(tracks, dets)

	// Rows and columns without a single qualifying pair can't take part
	valid := gmat.Map(m, func(v float64, r, c int) bool { return v >= threshold && v > 0 })
	for ind_r, vec := range valid.Vectors(gmat.Horizontal) {
		if !vec.Any(func(ok bool) bool { return ok }) {
			m = m.Mask(gmat.Horizontal, ind_r)
		}
	}
	for ind_c, vec := range valid.Vectors(gmat.Vertical) {
		if !vec.Any(func(ok bool) bool { return ok }) {
			m = m.Mask(gmat.Vertical, ind_c)
		}
	}

	var matches []Assoc
	switch method {
	case Hungarian:
		matches = hungarian(m, threshold)
	default:
		matches = greedy(m, threshold)
	}

	track_used := make([]bool, len(tracks))
	det_used := make([]bool, len(dets))
	for _, a := range matches {
		track_used[a.Track] = true
		det_used[a.Det] = true
	}
	res := Result{Matches: matches}
	for i, used := range track_used {
		if !used {
			res.UnmatchedTracks = append(res.UnmatchedTracks, i)
		}
	}
	for i, used := range det_used {
		if !used {
			res.UnmatchedDets = append(res.UnmatchedDets, i)
		}
	}
	return res
}

func greedy(m *gmat.Mat[float64], threshold float64) []Assoc {
	var candidates []Assoc
	for ind_r, vec := range m.Vectors(gmat.Horizontal) {
		for ind_c, value := range vec.All() {
			if value > 0 && value >= threshold {
				candidates = append(candidates, Assoc{Track: ind_r, Det: ind_c, IoU: value})
			}
		}
	}
	slices.SortFunc(candidates, func(a, b Assoc) int {
		if a.IoU != b.IoU {
			return cmp.Compare(b.IoU, a.IoU)
		}
		if a.Track != b.Track {
			return cmp.Compare(a.Track, b.Track)
		}
		return cmp.Compare(a.Det, b.Det)
	})

	track_used := map[int]bool{}
	det_used := map[int]bool{}
	var matches []Assoc
	for _, c := range candidates {
		if track_used[c.Track] || det_used[c.Det] {
			continue
		}
		track_used[c.Track] = true
		det_used[c.Det] = true
		matches = append(matches, c)
	}
	return matches
}

func hungarian(m *gmat.Mat[float64], threshold float64) []Assoc {
	square, rows, cols := gmat.Square(m, 0)
	if len(square) == 0 {
		return nil
	}
	// The solver has nothing to maximise on an all zero matrix
	if !slices.ContainsFunc(square, func(row []float64) bool {
		return slices.ContainsFunc(row, func(v float64) bool { return v > 0 })
	}) {
		return nil
	}

	if len(square) == 1 {
		if v := square[0][0]; rows[0] >= 0 && cols[0] >= 0 && v >= threshold {
			return []Assoc{{Track: rows[0], Det: cols[0], IoU: v}}
		}
		return nil
	}

	var matches []Assoc
	for ind_r, assigned := range hung.SolveMax(square) {
		for ind_c, value := range assigned {
			if ind_r >= len(rows) || ind_c >= len(cols) {
				continue
			}
			track, det := rows[ind_r], cols[ind_c]
			if track < 0 || det < 0 || value <= 0 || value < threshold {
				continue
			}
			matches = append(matches, Assoc{Track: track, Det: det, IoU: value})
		}
	}
	slices.SortFunc(matches, func(a, b Assoc) int { return cmp.Compare(a.Track, b.Track) })
	return matches
}
