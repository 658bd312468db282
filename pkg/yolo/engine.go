// Package yolo runs OpenCV DNN models through gocv behind the engine
// capability.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"

	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/frame"
	"gocv.io/x/gocv"
)

var (
	ERR_BAD_MODEL        error = errors.New("Can't load model")
	ERR_CANT_SET_BACKEND error = errors.New("Can't set backend")
	ERR_CANT_SET_TARGET  error = errors.New("Can't set target")
)

const default_queue = 16

type Format string

const (
	FormatONNX     Format = "onnx"
	FormatOpenVINO Format = "openvino"
	FormatCaffe    Format = "caffe"
)

type Config struct {
	Kind       frame.Kind
	Format     Format
	Path       string
	ConfigPath string
	Backend    gocv.NetBackendType
	Target     gocv.NetTargetType

	Transpose           bool
	ScaleFactor         float64
	Width, Height       int
	ConfidenceThreshold float32
	NMSThreshold        float32
	// empty keeps every class
	ClassIDs []int
	// requests waiting for the network goroutine
	QueueSize int
}

type request struct {
	in   engine.Input
	seq  uint64
	done engine.Callback
}

// Engine owns one network on a dedicated, OS thread locked goroutine.
// Every inference goes through it.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	params gocv.ImageToBlobParams
	layers []string

	load_once sync.Once
	loaded    chan error
	ready     chan struct{}
	load_err  error

	mu       sync.RWMutex
	closed   bool
	requests chan request
	stopped  chan struct{}
}

func New(cfg Config, parent_logger *slog.Logger) *Engine {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = default_queue
	}
	if cfg.ScaleFactor == 0 {
		cfg.ScaleFactor = 1 / 255.0
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		cfg.Width, cfg.Height = 640, 640
	}
	return &Engine{
		cfg:    cfg,
		logger: parent_logger.With("coroutine", "yolo", "model", cfg.Path),
		params: gocv.NewImageToBlobParams(
			cfg.ScaleFactor,
			image.Pt(cfg.Width, cfg.Height),
			gocv.NewScalar(0, 0, 0, 0),
			true,
			gocv.MatTypeCV32F,
			gocv.DataLayoutNCHW,
			gocv.PaddingModeLetterbox,
			gocv.NewScalar(0, 0, 0, 0),
		),
		loaded:   make(chan error, 1),
		ready:    make(chan struct{}),
		requests: make(chan request, cfg.QueueSize),
		stopped:  make(chan struct{}),
	}
}

func (e *Engine) Kind() frame.Kind { return e.cfg.Kind }

// LoadAsync starts the network goroutine. Later calls return a channel
// reporting the same outcome.
func (e *Engine) LoadAsync() <-chan error {
	e.load_once.Do(func() {
		go e.serve()
	})
	out := make(chan error, 1)
	go func() {
		<-e.ready
		out <- e.load_err
		close(out)
	}()
	return out
}

func (e *Engine) readNet() (gocv.Net, error) {
	var net gocv.Net
	switch e.cfg.Format {
	case FormatCaffe:
		net = gocv.ReadNetFromCaffe(e.cfg.ConfigPath, e.cfg.Path)
	case FormatOpenVINO:
		net = gocv.ReadNet(e.cfg.Path, e.cfg.ConfigPath)
	default:
		net = gocv.ReadNetFromONNX(e.cfg.Path)
	}
	if net.Empty() {
		return net, fmt.Errorf("%w: %s", ERR_BAD_MODEL, e.cfg.Path)
	}
	if err := net.SetPreferableBackend(e.cfg.Backend); err != nil {
		net.Close()
		return net, fmt.Errorf("%w: %w", ERR_CANT_SET_BACKEND, err)
	}
	if err := net.SetPreferableTarget(e.cfg.Target); err != nil {
		net.Close()
		return net, fmt.Errorf("%w: %w", ERR_CANT_SET_TARGET, err)
	}
	e.layers = outputLayerNames(&net)
	if len(e.layers) == 0 {
		net.Close()
		return net, fmt.Errorf("%w: no output layers in %s", ERR_BAD_MODEL, e.cfg.Path)
	}
	return net, nil
}

func (e *Engine) serve() {
	defer close(e.stopped)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	net, err := e.readNet()
	e.load_err = err
	close(e.ready)
	if err != nil {
		e.logger.Error("Error reading network model", "error", err)
		return
	}
	defer net.Close()
	e.logger.Debug("Model info", "output layers", e.layers, "kind", e.cfg.Kind)

	for req := range e.requests {
		detections, err := e.infer(&net, req.in)
		req.done(req.seq, detections, err)
	}
	e.logger.Debug("Network goroutine stopped")
}

func (e *Engine) infer(net *gocv.Net, in engine.Input) ([]frame.Detection, error) {
	img, ok := in.Frame.Buffer.(*gocv.Mat)
	if !ok || img == nil || img.Empty() {
		return nil, engine.ERR_UNSUPPORTED_INPUT
	}
	if in.Region == nil {
		if e.cfg.Kind != frame.KindDetection {
			return nil, engine.ERR_UNSUPPORTED_INPUT
		}
		return e.detect(net, *img), nil
	}
	region, ok := crop(*img, in.Region.Box)
	if !ok {
		return nil, nil
	}
	defer region.Close()
	if e.cfg.Kind == frame.KindClassification {
		return e.classify(net, region, in.Region.Box), nil
	}
	detections := e.detect(net, region)
	// back to full frame coordinates
	for i := range detections {
		b := &detections[i].Box
		b.X1 += in.Region.Box.X1
		b.X2 += in.Region.Box.X1
		b.Y1 += in.Region.Box.Y1
		b.Y2 += in.Region.Box.Y1
	}
	return detections, nil
}

func (e *Engine) submit(req request) error {
	select {
	case <-e.ready:
		if e.load_err != nil {
			return e.load_err
		}
	default:
		return engine.ERR_NOT_LOADED
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return engine.ERR_CLOSED
	}
	e.requests <- req
	return nil
}

func (e *Engine) InferAsync(in engine.Input, seq uint64, done engine.Callback) error {
	return e.submit(request{in: in, seq: seq, done: done})
}

func (e *Engine) InferSync(ctx context.Context, in engine.Input) ([]frame.Detection, error) {
	type reply struct {
		detections []frame.Detection
		err        error
	}
	replies := make(chan reply, 1)
	err := e.submit(request{in: in, done: func(_ uint64, detections []frame.Detection, err error) {
		replies <- reply{detections, err}
	}})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-replies:
		return r.detections, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close lets queued requests finish and frees the network
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.requests)
	e.mu.Unlock()

	select {
	case <-e.ready:
		if e.load_err == nil {
			<-e.stopped
		}
	default:
		// never loaded, nothing is serving the queue
	}
	return nil
}
