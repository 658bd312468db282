package main

import (
	// stdlib
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	// internal
	"github.com/Robogera/analytics/pkg/config"
	"github.com/Robogera/analytics/pkg/pipeline"

	// external
	"gocv.io/x/gocv"
)

var image_extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

func listImages(path string) ([]string, error) {
	dir, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	files, err := dir.Readdir(-1)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if slices.Contains(image_extensions, strings.ToLower(filepath.Ext(f.Name()))) {
			names = append(names, filepath.Join(path, f.Name()))
		}
	}
	if len(names) == 0 {
		return nil, ERR_EMPTY_FOLDER
	}
	slices.Sort(names)
	return names, nil
}

// Feeds every image of the folder once, in name order
func folderreader(
	ctx context.Context,
	parent_logger *slog.Logger,
	cfg *config.ConfigFile,
	names []string,
	fps float64,
	p *pipeline.Pipeline,
) error {
	logger := parent_logger.With("coroutine", "folderreader")
	logger.Info("Reading folder", "path", cfg.Input.Path, "images", len(names))

	task := cfg.Task()
	var frame_id uint64 = 0

	for _, name := range names {
		select {
		case <-ctx.Done():
			logger.Info("Folderreader cancelled by context")
			return context.Canceled
		default:
		}

		img := gocv.IMRead(name, gocv.IMReadColor)
		if img.Empty() {
			logger.Error("Can't read image, skipping", "file", name)
			img.Close()
			continue
		}
		if err := p.Submit(ctx, newFrame(frame_id, task, fps, &img)); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("Folderreader cancelled by context")
				return context.Canceled
			}
			logger.Error("Pipeline refused the frame. Shutting down...", "file", name, "error", err)
			return err
		}
		frame_id++
	}
	logger.Info("Folder done", "frames", frame_id)
	p.Close()
	return nil
}
