package gring

import (
	"slices"
	"testing"
)

func TestRing(t *testing.T) {
	r := NewRing[string](5)
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		r.Push(s)
	}
	if r.Size() != 5 {
		t.Fatalf("Size %d, expected 5", r.Size())
	}
	newest := slices.Collect(r.All())
	if !slices.Equal(newest, []string{"f", "e", "d", "c", "b"}) {
		t.Fatalf("Unexpected newest-first order: %v", newest)
	}
	oldest := slices.Collect(r.Chronological())
	if !slices.Equal(oldest, []string{"b", "c", "d", "e", "f"}) {
		t.Fatalf("Unexpected oldest-first order: %v", oldest)
	}
	if latest, _ := r.Latest(); latest != "f" {
		t.Fatalf("Latest %s", latest)
	}
	if r.Any(func(s string) bool { return s == "a" }) {
		t.Fatal("Overwritten element still visible")
	}
}

func TestPartialRing(t *testing.T) {
	r := NewRing[int](150)
	for i := range 3 {
		r.Push(i)
	}
	got := slices.Collect(r.Chronological())
	if !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("Unexpected order: %v", got)
	}
	r.Clear()
	if r.Size() != 0 {
		t.Fatalf("Size after clear: %d", r.Size())
	}
	if _, ok := r.Latest(); ok {
		t.Fatal("Latest on an empty ring")
	}
	r.Push(7)
	if got := slices.Collect(r.All()); !slices.Equal(got, []int{7}) {
		t.Fatalf("Unexpected content after clear: %v", got)
	}
}
