// Package engine describes the inference capability the worker lanes call
// into. The numerical side of a model lives behind this interface.
package engine

import (
	"context"
	"errors"

	"github.com/Robogera/analytics/pkg/frame"
)

var (
	ERR_UNSUPPORTED_INPUT error = errors.New("Unsupported input")
	ERR_NOT_LOADED        error = errors.New("Model not loaded")
	ERR_CLOSED            error = errors.New("Engine closed")
)

// What the engine is asked to look at: a whole frame or one region of it
type Input struct {
	Frame  *frame.Context
	Region *frame.Detection
}

// Completion of an asynchronous call. It may run on a goroutine owned by
// the engine, never assume it runs on the caller's goroutine.
type Callback func(seq uint64, detections []frame.Detection, err error)

type Engine interface {
	// LoadAsync starts loading the model. The returned channel yields
	// exactly one value (nil on success) and is then closed.
	LoadAsync() <-chan error
	InferSync(ctx context.Context, in Input) ([]frame.Detection, error)
	// InferAsync returns immediately. An error means the call was not
	// accepted and done will not be invoked.
	InferAsync(in Input, seq uint64, done Callback) error
	Kind() frame.Kind
	Close() error
}

// Resolve a load future, honouring cancellation
func WaitLoaded(ctx context.Context, loaded <-chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-loaded:
		if !ok {
			return ERR_NOT_LOADED
		}
		return err
	}
}
