package report

import (
	"encoding/json"
	"time"

	"github.com/Robogera/analytics/pkg/crossing"
	"github.com/Robogera/analytics/pkg/frame"
)

type Command struct {
	Id      uint64   `json:"id"`
	Sender  string   `json:"sender"`
	Type    string   `json:"type"`
	Subject string   `json:"subject"`
	Message *Message `json:"message"`
}

type ExportedTrack struct {
	Id      uint64    `json:"id"`
	ClassId int       `json:"class_id"`
	Score   float64   `json:"score"`
	Box     frame.Box `json:"box"`
	Lost    int       `json:"lost"`
	Since   time.Time `json:"since"`
}

type ExportedCrossing struct {
	Line      string `json:"line"`
	TrackId   uint64 `json:"track_id"`
	Label     string `json:"label"`
	Direction string `json:"direction"`
}

type Message struct {
	Seq       uint64                               `json:"seq"`
	Index     uint64                               `json:"index"`
	Trace     string                               `json:"trace"`
	Time      time.Time                            `json:"time"`
	Phase     string                               `json:"phase"`
	Event     string                               `json:"event,omitempty"`
	Tracks    []ExportedTrack                      `json:"tracks"`
	Crossings []ExportedCrossing                   `json:"crossings,omitempty"`
	Tallies   map[string]map[string]crossing.Tally `json:"tallies,omitempty"`
}

func NewCommand(id uint64, sender string, a *Annotation) *Command {
	msg := &Message{
		Time:    a.Time,
		Phase:   a.Phase.String(),
		Tracks:  make([]ExportedTrack, 0, len(a.Tracks)),
		Tallies: a.Tallies,
	}
	if f := a.EventFrame(); f != nil {
		msg.Seq = f.Seq
		msg.Index = f.Index
		msg.Trace = f.TraceID
	}
	if a.Debounce.Reportable {
		msg.Event = a.Debounce.Transition.String()
	}
	for _, tr := range a.Tracks {
		msg.Tracks = append(msg.Tracks, ExportedTrack{
			Id:      tr.ID,
			ClassId: tr.ClassID,
			Score:   tr.Score,
			Box:     tr.Box,
			Lost:    tr.Lost,
			Since:   tr.Created,
		})
	}
	for _, c := range a.Crossings {
		msg.Crossings = append(msg.Crossings, ExportedCrossing{
			Line:      c.Line,
			TrackId:   c.TrackID,
			Label:     c.Label,
			Direction: c.Direction.String(),
		})
	}
	return &Command{
		Id:      id,
		Sender:  sender,
		Type:    "event",
		Subject: a.Source,
		Message: msg,
	}
}

func (c *Command) ToPayload() ([]byte, error) {
	return json.Marshal(c)
}
