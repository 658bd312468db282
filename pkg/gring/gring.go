package gring

import (
	"iter"
)

// Fixed capacity ring, the oldest element is overwritten once full
type Ring[T any] struct {
	l   int
	s   []T
	pos int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		l:   0,
		s:   make([]T, capacity),
		pos: 0,
	}
}

func (r *Ring[T]) Size() int { return r.l }
func (r *Ring[T]) Cap() int  { return len(r.s) }

func (r *Ring[T]) Push(e T) {
	r.s[r.pos] = e
	r.pos++
	if r.pos >= len(r.s) {
		r.pos = 0
	}
	if r.l < len(r.s) {
		r.l++
	}
}

// Latest returns the most recently pushed element
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.l == 0 {
		return zero, false
	}
	return r.s[r.at(0)], true
}

func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.s {
		r.s[i] = zero
	}
	r.l, r.pos = 0, 0
}

// physical index of the i-th newest element
func (r *Ring[T]) at(i int) int {
	real_pos := r.pos - 1 - i
	if real_pos < 0 {
		real_pos += len(r.s)
	}
	return real_pos
}

// Newest first
func (r *Ring[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := range r.l {
			if !yield(r.s[r.at(i)]) {
				return
			}
		}
	}
}

// Oldest first
func (r *Ring[T]) Chronological() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := r.l - 1; i >= 0; i-- {
			if !yield(r.s[r.at(i)]) {
				return
			}
		}
	}
}

func (r *Ring[T]) Any(f func(T) bool) bool {
	for e := range r.All() {
		if f(e) {
			return true
		}
	}
	return false
}
