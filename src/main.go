package main

import (
	// stdlib
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	// internal
	"github.com/Robogera/analytics/pkg/config"
	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/dispatch"
	"github.com/Robogera/analytics/pkg/engine"
	"github.com/Robogera/analytics/pkg/enums"
	"github.com/Robogera/analytics/pkg/pipeline"
	"github.com/Robogera/analytics/pkg/preview"
	"github.com/Robogera/analytics/pkg/report"
	"github.com/Robogera/analytics/pkg/rpath"

	// external
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	default_cfg_path string = "../cfg/config.default.toml"
	preview_capacity int    = 4
)

var cfg_path string
var create_path string
var exe_dir string

func init() {
	var err error

	exe_dir, err = rpath.ExecutableDir()
	if err != nil {
		slog.Error("Can't find the executable's location", "error", err)
		return
	}

	flag.StringVar(
		&cfg_path, "config",
		default_cfg_path,
		"Path to config file")
	flag.StringVar(
		&create_path, "create-default",
		"",
		"Write the default config to this path and exit")
}

func main() {

	// Configuration init

	flag.Parse()

	if create_path != "" {
		if err := config.CreateDefault(create_path); err != nil {
			slog.Error("Can't create default config", "path", create_path, "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Unmarshal(rpath.Convert(exe_dir, cfg_path))
	if err != nil {
		slog.Error("Config file not loaded. Shutting down...", "provided path", cfg_path, "error", err)
		os.Exit(1)
	}
	rpath.ConvertAll(exe_dir, &cfg.Model.Path, &cfg.Model.ConfigPath)
	// webcam indices and stream urls are not paths
	switch (enums.InputType{Value: cfg.Input.Type}) {
	case enums.InputFile, enums.InputFolder:
		cfg.Input.Path = rpath.Convert(exe_dir, cfg.Input.Path)
	}
	if cfg.Classifier != nil {
		rpath.ConvertAll(exe_dir, &cfg.Classifier.Path, &cfg.Classifier.ConfigPath)
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cfg.LogLevel(),
		TimeFormat: time.RFC3339,
		AddSource:  cfg.Logging.AddSource,
	}))

	logger.Info("Starting...", "source", cfg.Input.Source, "task", cfg.Input.Task)

	err = run(logger, cfg)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ERR_INTERRUPTED_BY_USER) {
		logger.Error("Stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Stopped")
}

func run(logger *slog.Logger, cfg *config.ConfigFile) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The source decides the analytics frame rate, open it first
	var read func(ctx context.Context, p *pipeline.Pipeline) error
	var fps float64
	if (enums.InputType{Value: cfg.Input.Type}) == enums.InputFolder {
		names, err := listImages(cfg.Input.Path)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ERR_BAD_INPUT, cfg.Input.Path, err)
		}
		fps = max(cfg.Input.FPS, 1)
		read = func(ctx context.Context, p *pipeline.Pipeline) error {
			return folderreader(ctx, logger, cfg, names, fps, p)
		}
	} else {
		input_stream, err := openCapture(&cfg.Input)
		if err != nil {
			logger.Error(
				"Can't open input",
				"type", cfg.Input.Type,
				"address", cfg.Input.Path,
				"err", err)
			return fmt.Errorf("%w %s: %w", ERR_BAD_INPUT, cfg.Input.Path, err)
		}
		defer input_stream.Close()
		fps = captureFPS(&cfg.Input, input_stream)
		read = func(ctx context.Context, p *pipeline.Pipeline) error {
			return streamreader(ctx, logger, cfg, input_stream, fps, p)
		}
	}

	p_cfg, stage_engines, err := pipelineConfig(logger, cfg, fps)
	defer closeEngines(logger, stage_engines)
	if err != nil {
		return err
	}

	sinks := []report.Sink{report.NewLogSink(logger)}
	if cfg.MQTT.Enabled {
		topic := cfg.MQTT.Topic
		if topic == "" {
			topic = fmt.Sprintf("analytics/%s/events", cfg.Input.Source)
		}
		mqtt_sink, err := report.NewMQTTSink(ctx, logger, report.MQTTConfig{
			Addr:           cfg.MQTT.Addr,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			Topic:          topic,
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, mqtt_sink)
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("Can't close sink", "error", err)
			}
		}
	}()
	p_cfg.Sinks = sinks

	p, err := pipeline.New(p_cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	eg, child_ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		// a drained pipeline stops everything else
		defer cancel()
		return p.Run(child_ctx)
	})

	eg.Go(func() error {
		return read(child_ctx, p)
	})

	if cfg.Webserver.Enabled {
		var lines []crossing.Line
		if p_cfg.Crossing != nil {
			lines = p_cfg.Crossing.Lines
		}
		pv := preview.New(preview.Config{
			Port:            cfg.Webserver.Port,
			ReadTimeout:     time.Duration(cfg.Webserver.ReadTimeoutSec) * time.Second,
			WriteTimeout:    time.Duration(cfg.Webserver.WriteTimeoutSec) * time.Second,
			ShutdownTimeout: time.Duration(cfg.Webserver.ShutdownTimeoutSec) * time.Second,
			Width:           int(cfg.Webserver.W),
			Height:          int(cfg.Webserver.H),
			Labels:          cfg.Model.Labels,
		}, lines)
		eg.Go(func() error {
			return pv.Run(child_ctx, logger, p.Out())
		})
	}

	eg.Go(func() error {
		return stat(child_ctx, logger, p, cfg.Logging.StatPeriodSec)
	})

	eg.Go(func() error {
		return control(child_ctx, logger)
	})

	return eg.Wait()
}

func pipelineConfig(logger *slog.Logger, cfg *config.ConfigFile, fps float64) (pipeline.Config, [][]engine.Engine, error) {
	p_cfg := pipeline.Config{
		Source:      cfg.Input.Source,
		Resort:      cfg.Dispatch.Resort,
		ResortDepth: int(cfg.Dispatch.ResortDepth),
		Signal: pipeline.Signal{
			ClassIDs:   cfg.Debounce.ClassIDs,
			MinObjects: int(cfg.Debounce.MinObjects),
		},
	}
	if cfg.Webserver.Enabled {
		p_cfg.OutCapacity = preview_capacity
	}

	models := []*config.ModelConfig{&cfg.Model}
	if cfg.Classifier != nil {
		models = append(models, cfg.Classifier)
	}
	var stage_engines [][]engine.Engine
	for i, m := range models {
		engs, err := engines(logger, m)
		if err != nil {
			return p_cfg, stage_engines, err
		}
		stage_engines = append(stage_engines, engs)
		stage := pipeline.Stage{
			Engines: engs,
			Dispatch: dispatch.Config{
				VideoRate:          fps,
				HighWaterMark:      int(cfg.Dispatch.HighWaterMark),
				MaxInFlightPerLane: int(cfg.Dispatch.MaxInFlightPerLane),
				DrainTimeout:       time.Duration(cfg.Dispatch.DrainTimeoutSec) * time.Second,
			},
		}
		// later stages see the first stage's selection
		if i == 0 {
			stage.Dispatch.TargetRate = cfg.Dispatch.TargetRate
		}
		p_cfg.Stages = append(p_cfg.Stages, stage)
	}

	if cfg.Tracker.Enabled {
		tracker_cfg := cfg.TrackerConfig()
		p_cfg.Tracker = &tracker_cfg
	}
	if len(cfg.Crossing.Lines) > 0 {
		crossing_cfg, err := cfg.CrossingConfig()
		if err != nil {
			return p_cfg, stage_engines, err
		}
		p_cfg.Crossing = &crossing_cfg
		p_cfg.Predicates = append(p_cfg.Predicates, report.OnCrossing())
	}
	if cfg.Debounce.Enabled {
		debounce_cfg := cfg.DebounceConfig(fps)
		p_cfg.Debounce = &debounce_cfg
		p_cfg.Predicates = append(p_cfg.Predicates, report.OnDebounce())
	}
	return p_cfg, stage_engines, nil
}

func control(ctx context.Context, logger *slog.Logger) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt,
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGINT)
	defer signal.Stop(interrupt)

	select {
	case <-ctx.Done():
		logger.Info("Control cancelled by context")
		return context.Canceled
	case <-interrupt:
		logger.Info("Cancelled by user")
		return ERR_INTERRUPTED_BY_USER
	}
}
