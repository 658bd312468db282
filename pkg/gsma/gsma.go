package gsma

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

var (
	ERR_VALUE = errors.New("Bad value")
)

type Number interface {
	constraints.Float | constraints.Integer
}

// Simple moving average over the last cap(data) samples
type SMA[T Number] struct {
	data         []T
	buffer_index int
	sum          float64
}

func NewSMA[T Number](capacity uint) (*SMA[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("Invalid capacity: %d. Error: %w", capacity, ERR_VALUE)
	}
	return &SMA[T]{
		data:         make([]T, 0, capacity),
		buffer_index: 0,
		sum:          0,
	}, nil
}

// Adds a sample and returns the updated average
func (s *SMA[T]) Recalc(new_value T) float64 {
	if len(s.data) < cap(s.data) {
		s.data = append(s.data, new_value)
		s.sum += float64(new_value)
		return s.Show()
	}
	s.sum += float64(new_value) - float64(s.data[s.buffer_index])
	s.data[s.buffer_index] = new_value
	s.buffer_index++
	if s.buffer_index >= len(s.data) {
		s.buffer_index = 0
	}
	return s.Show()
}

func (s *SMA[T]) Show() float64 {
	if len(s.data) == 0 {
		return 0
	}
	return s.sum / float64(len(s.data))
}

func (s *SMA[T]) Len() int { return len(s.data) }
