package main

import (
	// stdlib
	"fmt"
	"log/slog"

	// internal
	"github.com/Robogera/analytics/pkg/config"
	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/enums"
	"github.com/Robogera/analytics/pkg/yolo"

	// external
	"gocv.io/x/gocv"
)

func backend(device string) (gocv.NetBackendType, gocv.NetTargetType, error) {
	switch enums.DeviceType{Value: device} {
	case enums.DeviceCPU:
		return gocv.NetBackendDefault, gocv.NetTargetCPU, nil
	case enums.DeviceGPU:
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA, nil
	case enums.DeviceVPU:
		return gocv.NetBackendOpenVINO, gocv.NetTargetVPU, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ERR_UNKNOWN_DEVICE, device)
}

// engines builds one engine per lane of a stage
func engines(logger *slog.Logger, cfg *config.ModelConfig) ([]engine.Engine, error) {
	var out []engine.Engine
	if (enums.ModelFormat{Value: cfg.Format}) == enums.ModelSim {
		for range cfg.Lanes {
			out = append(out, engine.NewSim(engine.SimConfig{Kind: cfg.FrameKind()}))
		}
		return out, nil
	}

	net_backend, net_target, err := backend(cfg.Device)
	if err != nil {
		return nil, err
	}
	for range cfg.Lanes {
		out = append(out, yolo.New(yolo.Config{
			Kind:                cfg.FrameKind(),
			Format:              yolo.Format(cfg.Format),
			Path:                cfg.Path,
			ConfigPath:          cfg.ConfigPath,
			Backend:             net_backend,
			Target:              net_target,
			Transpose:           cfg.Transpose,
			ScaleFactor:         cfg.ScaleFactor,
			Width:               int(cfg.X),
			Height:              int(cfg.Y),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			NMSThreshold:        cfg.NMSThreshold,
			ClassIDs:            cfg.ClassIDs,
		}, logger))
	}
	return out, nil
}

func closeEngines(logger *slog.Logger, stages [][]engine.Engine) {
	for _, stage := range stages {
		for _, eng := range stage {
			if err := eng.Close(); err != nil {
				logger.Warn("Can't close engine", "error", err)
			}
		}
	}
}
