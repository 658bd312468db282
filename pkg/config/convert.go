package config

import (
	"log/slog"
	"time"

	"github.com/Robogera/analytics/pkg/assoc"
	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/debounce"
	"github.com/Robogera/analytics/pkg/enums"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/tracker"
)

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LogLevel falls back to error on unknown values
func (c *ConfigFile) LogLevel() slog.Level {
	level := enums.LoggingLevels.Parse(c.Logging.Level)
	if level == nil {
		return slog.LevelError
	}
	switch *level {
	case enums.LoggingLevelDebug:
		return slog.LevelDebug
	case enums.LoggingLevelInfo:
		return slog.LevelInfo
	case enums.LoggingLevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (c *ConfigFile) Task() frame.TaskKind {
	switch (enums.TaskType{Value: c.Input.Task}) {
	case enums.TaskImage:
		return frame.TaskImage
	case enums.TaskExport:
		return frame.TaskExport
	default:
		return frame.TaskStream
	}
}

func (m *ModelConfig) FrameKind() frame.Kind {
	if (enums.ModelKind{Value: m.Kind}) == enums.KindClassification {
		return frame.KindClassification
	}
	return frame.KindDetection
}

func (c *ConfigFile) TrackerConfig() tracker.Config {
	matcher := assoc.Greedy
	if (enums.MatcherType{Value: c.Tracker.Matcher}) == enums.MatcherHungarian {
		matcher = assoc.Hungarian
	}
	return tracker.Config{
		HighThresh:   c.Tracker.HighThresh,
		TrackThresh:  c.Tracker.TrackThresh,
		MatchThresh:  c.Tracker.MatchThresh,
		MaxFrameLost: int(c.Tracker.MaxFrameLost),
		Matcher:      matcher,
	}
}

// CrossingConfig builds and checks the border lines, labels come from the
// tracked model
func (c *ConfigFile) CrossingConfig() (crossing.Config, error) {
	cfg := crossing.Config{
		HistoryCap: int(c.Crossing.HistoryCap),
		StaleAfter: time.Duration(c.Crossing.StaleSec) * time.Second,
		Labels:     c.Model.Labels,
	}
	for _, l := range c.Crossing.Lines {
		line, err := crossing.NewLine(l.Name, l.Points, l.Margin)
		if err != nil {
			return cfg, err
		}
		cfg.Lines = append(cfg.Lines, line)
	}
	return cfg, nil
}

func (c *ConfigFile) DebounceConfig(frame_rate float64) debounce.Config {
	return debounce.Config{
		Interval:         seconds(c.Debounce.IntervalSec),
		FrameRate:        frame_rate,
		Threshold:        c.Debounce.Threshold,
		HoldTime:         seconds(c.Debounce.HoldTimeSec),
		MaxRepeats:       int(c.Debounce.MaxRepeats),
		ReportOnStart:    c.Debounce.ReportOnStart,
		ReportOnContinue: c.Debounce.ReportOnContinue,
		ReportOnEnd:      c.Debounce.ReportOnEnd,
	}
}
