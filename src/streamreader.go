package main

import (
	// stdlib
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	// internal
	"github.com/Robogera/analytics/pkg/config"
	"github.com/Robogera/analytics/pkg/enums"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/pipeline"

	// external
	"gocv.io/x/gocv"
)

const default_fps = 25

// Frames read from the source own their Mat, the last pipeline reference
// closes it
func releaseMat(f *frame.Context) {
	if img, ok := f.Buffer.(*gocv.Mat); ok {
		img.Close()
	}
}

func newFrame(index uint64, task frame.TaskKind, fps float64, img *gocv.Mat) *frame.Context {
	f := frame.New(index, time.Now(), task, fps, img, releaseMat)
	f.Width, f.Height = img.Cols(), img.Rows()
	return f
}

func openCapture(cfg *config.InputConfig) (*gocv.VideoCapture, error) {
	switch enums.InputType{Value: cfg.Type} {
	case enums.InputFile:
		return gocv.VideoCaptureFile(cfg.Path)
	case enums.InputWebcam:
		// path holds the device index, empty means the first camera
		device := 0
		if cfg.Path != "" {
			var err error
			if device, err = strconv.Atoi(cfg.Path); err != nil {
				return nil, fmt.Errorf("%w: webcam index %q: %w", ERR_BAD_INPUT, cfg.Path, err)
			}
		}
		return gocv.VideoCaptureDevice(device)
	case enums.InputIPC:
		return gocv.OpenVideoCapture(cfg.Path)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ERR_BAD_INPUT, cfg.Type)
}

// Reads frames into p until the stream ends, then closes p so the stages
// drain
func streamreader(
	ctx context.Context,
	parent_logger *slog.Logger,
	cfg *config.ConfigFile,
	input_stream *gocv.VideoCapture,
	fps float64,
	p *pipeline.Pipeline,
) error {
	logger := parent_logger.With("coroutine", "streamreader")

	task := cfg.Task()
	var frame_id uint64 = 0

	for {
		select {
		case <-ctx.Done():
			logger.Info("Streamreader cancelled by context")
			return context.Canceled
		default:
			// Reciever of this is responsible for closing
			img := gocv.NewMat()
			if !input_stream.Read(&img) {
				img.Close()
				logger.Info("Stream ended", "stream", cfg.Input.Path, "frames", frame_id)
				p.Close()
				return nil
			}
			if img.Empty() {
				logger.Error("Empty frame received, skipping", "stream", cfg.Input.Path)
				img.Close()
				continue
			}

			if err := p.Submit(ctx, newFrame(frame_id, task, fps, &img)); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Info("Streamreader cancelled by context")
					return context.Canceled
				}
				logger.Error("Pipeline refused the frame. Shutting down...", "index", frame_id, "error", err)
				return err
			}
			frame_id++
		}
	}
}

func captureFPS(cfg *config.InputConfig, input_stream *gocv.VideoCapture) float64 {
	if cfg.FPS > 0 {
		return cfg.FPS
	}
	if fps := input_stream.Get(gocv.VideoCaptureFPS); fps > 0 {
		return fps
	}
	return default_fps
}
