// Package preview draws annotations onto frames and serves them as MJPEG.
package preview

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/report"
	"github.com/hybridgroup/mjpeg"
	"gocv.io/x/gocv"
)

type Config struct {
	Port            uint
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// output size, zero keeps the source size
	Width, Height int
	Labels        []string
}

var (
	line_color    = color.RGBA{255, 255, 0, 255}
	counter_color = color.RGBA{255, 255, 255, 255}
)

type Preview struct {
	cfg     Config
	lines   []crossing.Line
	palette *Palette
	stream  *mjpeg.Stream
}

func New(cfg Config, lines []crossing.Line) *Preview {
	return &Preview{
		cfg:     cfg,
		lines:   lines,
		palette: NewPalette(color.RGBA{255, 0, 0, 255}),
		stream:  mjpeg.NewStream(),
	}
}

func (p *Preview) label(class int) string {
	if class >= 0 && class < len(p.cfg.Labels) {
		return p.cfg.Labels[class]
	}
	return fmt.Sprintf("%d", class)
}

// Draw paints the lines, the visible tracks and the tallies onto img
func (p *Preview) Draw(img *gocv.Mat, a *report.Annotation) {
	for _, l := range p.lines {
		gocv.Line(img,
			image.Pt(int(l.P0.X), int(l.P0.Y)),
			image.Pt(int(l.P1.X), int(l.P1.Y)),
			line_color, 2)
	}

	live := make(map[uint64]struct{}, len(a.Tracks))
	for _, tr := range a.Tracks {
		live[tr.ID] = struct{}{}
		if tr.Lost > 0 {
			continue
		}
		c := p.palette.Color(tr.ID)
		r := image.Rect(int(tr.Box.X1), int(tr.Box.Y1), int(tr.Box.X2), int(tr.Box.Y2))
		gocv.Rectangle(img, r, c, 2)
		gocv.PutText(img, fmt.Sprintf("%s #%d", p.label(tr.ClassID), tr.ID), r.Min.Add(image.Pt(0, -4)),
			gocv.FontHersheyPlain, 1.2, c, 1)
	}
	p.palette.Forget(live)

	y := 20
	for line, per_class := range a.Tallies {
		for label, tally := range per_class {
			gocv.PutText(img, fmt.Sprintf("%s %s: %d / %d", line, label, tally.Left, tally.Right),
				image.Pt(10, y), gocv.FontHersheyPlain, 1.2, counter_color, 1)
			y += 18
		}
	}
}

// Render draws a copy of the annotation's frame and publishes it
func (p *Preview) Render(a *report.Annotation) error {
	src, ok := a.Frame.Buffer.(*gocv.Mat)
	if !ok || src == nil || src.Empty() {
		return nil
	}
	img := src.Clone()
	defer img.Close()
	p.Draw(&img, a)
	if p.cfg.Width != 0 && p.cfg.Height != 0 {
		gocv.Resize(img, &img, image.Pt(p.cfg.Width, p.cfg.Height), 0, 0, gocv.InterpolationLinear)
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("Can't encode frame: %w", err)
	}
	defer buf.Close()
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	p.stream.UpdateJPEG(data)
	return nil
}

// Run serves the stream and renders annotations until ctx is done or in
// is closed. Every received frame reference is released.
func (p *Preview) Run(ctx context.Context, parent_logger *slog.Logger, in <-chan *report.Annotation) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger := parent_logger.With("coroutine", "preview")

	mux := http.NewServeMux()
	mux.Handle("/", p.stream)
	server := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", p.cfg.Port),
		Handler:      mux,
		ReadTimeout:  p.cfg.ReadTimeout,
		WriteTimeout: p.cfg.WriteTimeout,
	}

	err_chan := make(chan error, 1)
	go func() {
		err_chan <- server.ListenAndServe()
	}()
	defer func() {
		shutdown_context, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
		defer cancel()
		shutdown_initiated_timestamp := time.Now()
		err := server.Shutdown(shutdown_context)
		logger.Info(
			"Shut down",
			"shutdown time (sec)", time.Since(shutdown_initiated_timestamp).Seconds(),
			"error", err)
	}()

	logger.Info("Started", "port", p.cfg.Port)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context", "timeout", p.cfg.ShutdownTimeout)
			return context.Canceled
		case err := <-err_chan:
			logger.Error("Error", "port", p.cfg.Port, "error", err)
			return err
		case a, ok := <-in:
			if !ok {
				logger.Info("Annotation stream closed")
				return nil
			}
			if err := p.Render(a); err != nil {
				logger.Warn("Can't render frame", "index", a.Frame.Index, "error", err)
			}
			a.Frame.Release()
		}
	}
}
