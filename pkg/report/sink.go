package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

var (
	ERR_NOT_CONNECTED error = errors.New("MQTT client not connected")
)

// Sink receives reportable annotations from the analytics goroutine.
// The annotation and its frame are only valid for the duration of Send.
type Sink interface {
	Send(ctx context.Context, a *Annotation) error
	Close() error
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(parent_logger *slog.Logger) *LogSink {
	return &LogSink{logger: parent_logger.With("coroutine", "report")}
}

func (s *LogSink) Send(ctx context.Context, a *Annotation) error {
	attrs := []any{
		"phase", a.Phase,
		"tracks", len(a.Tracks),
	}
	if a.Frame != nil {
		attrs = append(attrs, "seq", a.Frame.Seq, "index", a.Frame.Index)
	}
	for _, c := range a.Crossings {
		attrs = append(attrs, "crossing", fmt.Sprintf("%s %s #%d %s", c.Line, c.Label, c.TrackID, c.Direction))
	}
	if a.Debounce.Reportable {
		attrs = append(attrs, "event", a.Debounce.Transition)
	}
	s.logger.Info("Report", attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }

type MQTTConfig struct {
	Addr           string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	ConnectTimeout time.Duration
}

// MQTTSink publishes one JSON command per report with QoS 0
type MQTTSink struct {
	cfg    MQTTConfig
	logger *slog.Logger
	client *mqtt.Client
	conn   net.Conn
	mu     sync.Mutex
	id     atomic.Uint64
}

func NewMQTTSink(ctx context.Context, parent_logger *slog.Logger, cfg MQTTConfig) (*MQTTSink, error) {
	logger := parent_logger.With("coroutine", "mqttclient")
	client := mqtt.NewClient(
		mqtt.ClientConfig{
			Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 2048)},
			OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
				message, err := io.ReadAll(r)
				if err != nil {
					return err
				}
				logger.Debug("Recieved", "header", pubHead.String(), "topic", string(varPub.TopicName), "message", message)
				return nil
			},
		})
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	connection_ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	connection, err := dialer.DialContext(connection_ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("Can't reach broker %s: %w", cfg.Addr, err)
	}

	var vars mqtt.VariablesConnect
	vars.SetDefaultMQTT([]byte(cfg.ClientID))
	if cfg.Username != "" {
		vars.Username = []byte(cfg.Username)
		vars.Password = []byte(cfg.Password)
	}
	if err := client.Connect(connection_ctx, connection, &vars); err != nil {
		connection.Close()
		return nil, fmt.Errorf("Can't connect to broker %s: %w", cfg.Addr, err)
	}
	logger.Info("Connected", "broker", cfg.Addr, "topic", cfg.Topic)
	return &MQTTSink{cfg: cfg, logger: logger, client: client, conn: connection}, nil
}

func (s *MQTTSink) Send(ctx context.Context, a *Annotation) error {
	payload, err := NewCommand(s.id.Add(1), s.cfg.ClientID, a).ToPayload()
	if err != nil {
		return fmt.Errorf("Can't encode report: %w", err)
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.client.IsConnected() {
		return ERR_NOT_CONNECTED
	}
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	err = s.client.PublishPayload(flags, mqtt.VariablesPublish{TopicName: []byte(s.cfg.Topic)}, payload)
	if err != nil {
		return fmt.Errorf("Can't publish report: %w", err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.client.Disconnect(errors.New("sink closed"))
	// the client may have closed it already
	s.conn.Close()
	return err
}
