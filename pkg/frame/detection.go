package frame

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Kind of output an inference stage produces. Carried as a tag on the
// stage result instead of being encoded in the engine type.
type Kind int

const (
	KindDetection Kind = iota
	KindClassification
	KindPose
	KindSegmentation
	KindOCR
)

func (k Kind) String() string {
	switch k {
	case KindDetection:
		return "detection"
	case KindClassification:
		return "classification"
	case KindPose:
		return "pose"
	case KindSegmentation:
		return "segmentation"
	case KindOCR:
		return "ocr"
	}
	return "unknown"
}

// NoParent marks a detection produced by a first stage
const NoParent = -1

type Detection struct {
	// Index inside the stage result, referenced by later stages
	ID       int     `json:"id"`
	ParentID int     `json:"parent_id"`
	ClassID  int     `json:"class_id"`
	Score    float64 `json:"score"`
	Box      Box     `json:"box"`
	// Optional, depending on the stage kind
	Keypoints []r2.Vec `json:"keypoints,omitempty"`
	Mask      []byte   `json:"-"`
	Text      string   `json:"text,omitempty"`
}

// Output of one inference pass over a frame
type StageResult struct {
	Stage      int         `json:"stage"`
	Kind       Kind        `json:"kind"`
	Detections []Detection `json:"detections"`
	// Set when the engine could not process the input, so that
	// consumers can tell "no objects" from "not processed"
	Failed bool  `json:"failed"`
	Err    error `json:"-"`
	// Copied from an earlier frame because inference was skipped by rate control
	Carried bool `json:"carried"`
	// Placeholder for a frame forwarded before the model finished loading
	Gated bool `json:"gated"`
}

func (r StageResult) Clone() StageResult {
	c := r
	c.Detections = make([]Detection, len(r.Detections))
	copy(c.Detections, r.Detections)
	return c
}

// Children returns detections of r whose parent is id
func (r StageResult) Children(id int) []Detection {
	var children []Detection
	for _, d := range r.Detections {
		if d.ParentID == id {
			children = append(children, d)
		}
	}
	return children
}
