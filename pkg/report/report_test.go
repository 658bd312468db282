package report

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/debounce"
	"github.com/Robogera/analytics/pkg/frame"
	"github.com/Robogera/analytics/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateTakesMaximum(t *testing.T) {
	a := &Annotation{}
	var order []int
	predicates := []Predicate{
		func(*Annotation) Phase { order = append(order, 0); return PhaseEnded },
		func(*Annotation) Phase { order = append(order, 1); return PhaseStarted },
		func(*Annotation) Phase { order = append(order, 2); return PhaseContinuing },
	}
	assert.Equal(t, PhaseStarted, Evaluate(a, predicates))
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.True(t, a.Reportable)

	b := &Annotation{}
	assert.Equal(t, PhaseNone, Evaluate(b, nil))
	assert.False(t, b.Reportable)
}

func TestBuiltinPredicates(t *testing.T) {
	a := &Annotation{
		Crossings: []crossing.Event{{Line: "door"}},
		Debounce:  debounce.Result{Transition: debounce.Ended, Reportable: true},
		Tracks:    []tracker.Track{{ID: 1}, {ID: 2, Lost: 1}},
	}
	assert.Equal(t, PhaseStarted, OnCrossing()(a))
	assert.Equal(t, PhaseEnded, OnDebounce()(a))
	assert.Equal(t, PhaseNone, MinTracks(2, PhaseContinuing)(a), "lost tracks are not visible")
	assert.Equal(t, PhaseContinuing, MinTracks(1, PhaseContinuing)(a))

	a.Debounce.Reportable = false
	assert.Equal(t, PhaseNone, OnDebounce()(a))
	a.Crossings = nil
	assert.Equal(t, PhaseNone, Evaluate(a, []Predicate{OnCrossing(), OnDebounce()}))
}

func TestCommandPayload(t *testing.T) {
	f := frame.New(42, time.Now(), frame.TaskStream, 25, nil, nil)
	f.Seq = 7
	a := &Annotation{
		Source:    "cam1",
		Frame:     f,
		Tracks:    []tracker.Track{{ID: 3, ClassID: 0, Score: 0.8, Box: frame.NewBox(1, 2, 3, 4)}},
		Crossings: []crossing.Event{{Line: "door", TrackID: 3, Label: "person", Direction: crossing.LeftToRight}},
		Tallies:   map[string]map[string]crossing.Tally{"door": {"person": {Left: 1}}},
		Phase:     PhaseStarted,
	}
	payload, err := NewCommand(1, "analytics", a).ToPayload()
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "cam1", decoded.Subject)
	require.NotNil(t, decoded.Message)
	assert.Equal(t, uint64(7), decoded.Message.Seq)
	assert.Equal(t, uint64(42), decoded.Message.Index)
	assert.Equal(t, f.TraceID, decoded.Message.Trace)
	assert.Equal(t, "started", decoded.Message.Phase)
	require.Len(t, decoded.Message.Crossings, 1)
	assert.Equal(t, "left_to_right", decoded.Message.Crossings[0].Direction)
	assert.Equal(t, 1, decoded.Message.Tallies["door"]["person"].Left)
}

func TestLogSink(t *testing.T) {
	buf := new(bytes.Buffer)
	sink := NewLogSink(slog.New(slog.NewTextHandler(buf, nil)))
	a := &Annotation{
		Phase:     PhaseStarted,
		Crossings: []crossing.Event{{Line: "door", Label: "person", TrackID: 9}},
	}
	require.NoError(t, sink.Send(context.Background(), a))
	assert.Contains(t, buf.String(), "door person #9 left_to_right")
	assert.Contains(t, buf.String(), "phase=started")
	require.NoError(t, sink.Close())
}

func TestMQTTSinkUnreachableBroker(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, err = NewMQTTSink(context.Background(), slog.Default(), MQTTConfig{
		Addr:           addr,
		ClientID:       "test",
		Topic:          "analytics/test/events",
		ConnectTimeout: time.Second,
	})
	require.Error(t, err)
}
