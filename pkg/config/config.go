package config

import (
	// stdlib
	"errors"
	"fmt"
	"os"

	// internal
	"github.com/Robogera/analytics/pkg/enums"

	// external
	"github.com/pelletier/go-toml/v2"
)

var (
	ERR_INVALID_CONFIG error = errors.New("Invalid config")
)

// Config file structure

type ConfigFile struct {
	Logging    LoggingConfig
	Input      InputConfig
	Model      ModelConfig
	Classifier *ModelConfig `toml:"classifier,omitempty"`
	Dispatch   DispatchConfig
	Tracker    TrackerConfig
	Crossing   CrossingConfig
	Debounce   DebounceConfig
	Webserver  WebserverConfig
	MQTT       MQTTConfig `toml:"mqtt"`
}

type LoggingConfig struct {
	Level         string
	StatPeriodSec uint `toml:"stat_period_sec"`
	AddSource     bool `toml:"add_source"`
}

type InputConfig struct {
	Type string
	Path string
	Task string
	// overrides the rate reported by the capture, 0 keeps it
	FPS float64 `toml:"fps"`
	// camera name used in reports
	Source string
}

type ModelConfig struct {
	Format              string
	Kind                string
	Path                string
	ConfigPath          string `toml:"config_path"`
	Device              string
	Transpose           bool
	ScaleFactor         float64 `toml:"scale_factor"`
	X                   uint
	Y                   uint
	ConfidenceThreshold float32 `toml:"confidence_threshold"`
	NMSThreshold        float32 `toml:"nms_threshold"`
	ClassIDs            []int   `toml:"class_ids"`
	Labels              []string
	// lane count of the stage
	Lanes uint
}

type DispatchConfig struct {
	TargetRate         float64 `toml:"target_rate"`
	MaxInFlightPerLane uint    `toml:"max_in_flight_per_lane"`
	HighWaterMark      uint    `toml:"high_water_mark"`
	Resort             bool
	ResortDepth        uint `toml:"resort_depth"`
	// how long a stopping lane waits for outstanding completions
	DrainTimeoutSec uint `toml:"drain_timeout_sec"`
}

type TrackerConfig struct {
	Enabled      bool
	HighThresh   float64 `toml:"high_thresh"`
	TrackThresh  float64 `toml:"track_thresh"`
	MatchThresh  float64 `toml:"match_thresh"`
	MaxFrameLost uint    `toml:"max_frame_lost"`
	Matcher      string
}

type LineConfig struct {
	Name   string
	Points [][2]float64
	Margin float64
}

type CrossingConfig struct {
	HistoryCap uint `toml:"history_cap"`
	StaleSec   uint `toml:"stale_sec"`
	Lines      []LineConfig
}

type DebounceConfig struct {
	Enabled          bool
	IntervalSec      float64 `toml:"interval_sec"`
	Threshold        float64
	HoldTimeSec      float64 `toml:"hold_time_sec"`
	MaxRepeats       uint    `toml:"max_repeats"`
	ReportOnStart    bool    `toml:"report_on_start"`
	ReportOnContinue bool    `toml:"report_on_continue"`
	ReportOnEnd      bool    `toml:"report_on_end"`
	ClassIDs         []int   `toml:"class_ids"`
	MinObjects       uint    `toml:"min_objects"`
}

type WebserverConfig struct {
	Enabled            bool
	Port               uint
	ReadTimeoutSec     uint `toml:"read_timeout_sec"`
	WriteTimeoutSec    uint `toml:"write_timeout_sec"`
	ShutdownTimeoutSec uint `toml:"shutdown_timeout_sec"`
	W                  uint
	H                  uint
}

type MQTTConfig struct {
	Enabled           bool
	Addr              string
	ClientID          string `toml:"client_id"`
	Username          string
	Password          string
	Topic             string
	ConnectTimeoutSec uint `toml:"connect_timeout_sec"`
}

func Default() *ConfigFile {
	return &ConfigFile{
		Logging: LoggingConfig{
			Level:         enums.LoggingLevelInfo.Value,
			StatPeriodSec: 5,
		},
		Input: InputConfig{
			Type:   enums.InputFile.Value,
			Path:   "../assets/video.mp4",
			Task:   enums.TaskStream.Value,
			Source: "camera",
		},
		Model: ModelConfig{
			Format:              enums.ModelONNX.Value,
			Kind:                enums.KindDetection.Value,
			Path:                "../assets/yolov8n.onnx",
			Device:              enums.DeviceCPU.Value,
			Transpose:           true,
			ScaleFactor:         1 / 255.0,
			X:                   640,
			Y:                   640,
			ConfidenceThreshold: 0.5,
			NMSThreshold:        0.4,
			ClassIDs:            []int{0},
			Labels:              []string{"person"},
			Lanes:               1,
		},
		Dispatch: DispatchConfig{
			MaxInFlightPerLane: 4,
			HighWaterMark:      20,
			ResortDepth:        8,
			DrainTimeoutSec:    5,
		},
		Tracker: TrackerConfig{
			Enabled:      true,
			HighThresh:   0.6,
			TrackThresh:  0.3,
			MatchThresh:  0.3,
			MaxFrameLost: 30,
			Matcher:      enums.MatcherGreedy.Value,
		},
		Crossing: CrossingConfig{
			HistoryCap: 150,
			StaleSec:   60,
		},
		Debounce: DebounceConfig{
			IntervalSec:      1,
			Threshold:        0.5,
			HoldTimeSec:      10,
			MaxRepeats:       3,
			ReportOnStart:    true,
			ReportOnContinue: true,
			ReportOnEnd:      true,
			MinObjects:       1,
		},
		Webserver: WebserverConfig{
			Enabled:            true,
			Port:               8080,
			ReadTimeoutSec:     5,
			WriteTimeoutSec:    0,
			ShutdownTimeoutSec: 5,
		},
		MQTT: MQTTConfig{
			Addr:              "127.0.0.1:1883",
			ClientID:          "analytics",
			ConnectTimeoutSec: 5,
		},
	}
}

// CreateDefault writes the default configuration to file_path
func CreateDefault(file_path string) error {
	data, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("Unable to marshal default config error: %w", err)
	}
	if err := os.WriteFile(file_path, data, 0o644); err != nil {
		return fmt.Errorf("Unable to write %s error: %w", file_path, err)
	}
	return nil
}

// Unmarshal reads file_path over the defaults and validates the result
func Unmarshal(file_path string) (*ConfigFile, error) {
	config_file := Default()
	data, err := os.ReadFile(file_path)
	if err != nil {
		return nil,
			fmt.Errorf("Unable to read %s error: %w", file_path, err)
	}
	err = toml.Unmarshal(data, config_file)
	if err != nil {
		return nil,
			fmt.Errorf("Unable to unmarshal %s error: %w", file_path, err)
	}
	if err := config_file.Validate(); err != nil {
		return nil,
			fmt.Errorf("%w %s: %w", ERR_INVALID_CONFIG, file_path, err)
	}
	return config_file, nil
}
