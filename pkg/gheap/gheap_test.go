package gheap

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestHeapSort(t *testing.T) {
	h := New(func(a, b int) bool { return a < b })
	in := rand.Perm(200)
	for _, v := range in {
		h.Push(v)
	}
	if top, _ := h.Peek(); top != 0 {
		t.Fatalf("Peek returned %d", top)
	}
	out := make([]int, 0, len(in))
	for !h.IsEmpty() {
		out = append(out, h.Pop())
	}
	if !slices.IsSorted(out) || len(out) != 200 {
		t.Fatalf("Heap order broken: %v", out)
	}
	if _, ok := h.Peek(); ok {
		t.Fatal("Peek on an empty heap")
	}
}
