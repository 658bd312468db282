package config

import (
	"errors"
	"fmt"

	"github.com/Robogera/analytics/pkg/enums"
)

// Validate reports every invalid field at once
func (c *ConfigFile) Validate() error {
	var errs []error

	if enums.LoggingLevels.Parse(c.Logging.Level) == nil {
		errs = append(errs, fmt.Errorf("logging.level: unknown value %q", c.Logging.Level))
	}
	if enums.InputTypes.Parse(c.Input.Type) == nil {
		errs = append(errs, fmt.Errorf("input.type: unknown value %q", c.Input.Type))
	}
	if enums.TaskTypes.Parse(c.Input.Task) == nil {
		errs = append(errs, fmt.Errorf("input.task: unknown value %q", c.Input.Task))
	}
	if c.Input.FPS < 0 {
		errs = append(errs, fmt.Errorf("input.fps: %v is negative", c.Input.FPS))
	}

	errs = append(errs, c.Model.validate("model"))
	if c.Classifier != nil {
		errs = append(errs, c.Classifier.validate("classifier"))
	}

	if c.Dispatch.TargetRate < 0 {
		errs = append(errs, fmt.Errorf("dispatch.target_rate: %v is negative", c.Dispatch.TargetRate))
	}
	if c.Dispatch.HighWaterMark == 0 {
		errs = append(errs, errors.New("dispatch.high_water_mark: must be positive"))
	}

	if c.Tracker.Enabled {
		if enums.MatcherTypes.Parse(c.Tracker.Matcher) == nil {
			errs = append(errs, fmt.Errorf("tracker.matcher: unknown value %q", c.Tracker.Matcher))
		}
		if err := c.TrackerConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracker: %w", err))
		}
	}
	if len(c.Crossing.Lines) > 0 {
		if !c.Tracker.Enabled {
			errs = append(errs, errors.New("crossing.lines: crossings need tracker.enabled"))
		}
		if _, err := c.CrossingConfig(); err != nil {
			errs = append(errs, fmt.Errorf("crossing: %w", err))
		}
	}
	if c.Debounce.Enabled {
		// the frame rate is only known once the input is open
		if err := c.DebounceConfig(1).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("debounce: %w", err))
		}
	}

	if c.Webserver.Enabled && c.Webserver.Port > 65535 {
		errs = append(errs, fmt.Errorf("webserver.port: %d out of range", c.Webserver.Port))
	}
	if c.MQTT.Enabled && c.MQTT.Addr == "" {
		errs = append(errs, errors.New("mqtt.addr: required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

func (m *ModelConfig) validate(section string) error {
	var errs []error
	format := enums.ModelFormats.Parse(m.Format)
	if format == nil {
		errs = append(errs, fmt.Errorf("%s.format: unknown value %q", section, m.Format))
	}
	if enums.ModelKinds.Parse(m.Kind) == nil {
		errs = append(errs, fmt.Errorf("%s.kind: unknown value %q", section, m.Kind))
	}
	if enums.DeviceTypes.Parse(m.Device) == nil {
		errs = append(errs, fmt.Errorf("%s.device: unknown value %q", section, m.Device))
	}
	if format != nil && *format != enums.ModelSim && m.Path == "" {
		errs = append(errs, fmt.Errorf("%s.path: required for %s models", section, m.Format))
	}
	if format != nil && *format == enums.ModelCaffe && m.ConfigPath == "" {
		errs = append(errs, fmt.Errorf("%s.config_path: required for caffe models", section))
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.confidence_threshold: %v not in [0, 1]", section, m.ConfidenceThreshold))
	}
	if m.NMSThreshold < 0 || m.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.nms_threshold: %v not in [0, 1]", section, m.NMSThreshold))
	}
	if m.Lanes == 0 {
		errs = append(errs, fmt.Errorf("%s.lanes: must be positive", section))
	}
	return errors.Join(errs...)
}
