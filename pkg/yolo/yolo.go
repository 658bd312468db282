package yolo

import (
	"image"
	"slices"

	"github.com/Robogera/analytics/pkg/frame"
	"gocv.io/x/gocv"
)

func outputLayerNames(net *gocv.Net) []string {
	var output_layer_names []string
	for _, i := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(i)
		name := layer.GetName()
		if name != "_input" {
			output_layer_names = append(output_layer_names, name)
		}
	}
	return output_layer_names
}

func (e *Engine) forward(net *gocv.Net, img gocv.Mat) []gocv.Mat {
	blob := gocv.BlobFromImageWithParams(img, e.params)
	defer blob.Close()
	net.SetInput(blob, "")
	return net.ForwardLayers(e.layers)
}

// detect runs a YOLO style head: each output row holds the box center,
// the box size and one confidence per class
func (e *Engine) detect(net *gocv.Net, img gocv.Mat) []frame.Detection {
	outputs := e.forward(net, img)
	defer func() {
		for _, output := range outputs {
			output.Close()
		}
	}()

	// YOLO-models authored by ultralythics are transposed
	if e.cfg.Transpose && len(outputs) > 0 {
		gocv.TransposeND(outputs[0], []int{0, 2, 1}, &outputs[0])
	}

	var detections []frame.Detection
	for _, output := range outputs {
		output_2d := output.Reshape(1, output.Size()[1])
		cols := output_2d.Cols()
		var boxes []image.Rectangle
		var confidences []float32
		var classes []int
		for i := 0; i < output_2d.Rows(); i++ {
			func() {
				row := output_2d.RowRange(i, i+1)
				defer row.Close()
				// values at indexes 4:cols are the confidence scores of the
				// object classes
				confidence_scores_area := row.ColRange(4, cols)
				defer confidence_scores_area.Close()
				_, confidence, _, class_id := gocv.MinMaxLoc(confidence_scores_area)
				if confidence < e.cfg.ConfidenceThreshold || !e.wanted(class_id.X) {
					return
				}
				// elements 0 and 1 correspond to the bounding box center coordinates
				x, y := int(row.GetFloatAt(0, 0)), int(row.GetFloatAt(0, 1))
				// and elements 2 and 3 are the box dimensions
				half_w, half_h := int(row.GetFloatAt(0, 2)/2.0), int(row.GetFloatAt(0, 3)/2.0)
				boxes = append(boxes, image.Rect(x-half_w, y-half_h, x+half_w, y+half_h))
				confidences = append(confidences, confidence)
				classes = append(classes, class_id.X)
			}()
		}
		output_2d.Close()

		if len(boxes) == 0 {
			continue
		}
		indices := gocv.NMSBoxes(boxes, confidences, e.cfg.ConfidenceThreshold, e.cfg.NMSThreshold)
		kept := make([]image.Rectangle, len(indices))
		for i, j := range indices {
			kept[i] = boxes[j]
		}
		kept = e.params.BlobRectsToImageRects(kept, image.Pt(img.Cols(), img.Rows()))
		for i, j := range indices {
			r := kept[i]
			detections = append(detections, frame.Detection{
				ClassID: classes[j],
				Score:   float64(confidences[j]),
				Box:     frame.Box{X1: float64(r.Min.X), Y1: float64(r.Min.Y), X2: float64(r.Max.X), Y2: float64(r.Max.Y)},
			})
		}
	}
	return detections
}

// classify treats the first output as one score per class and keeps the best
func (e *Engine) classify(net *gocv.Net, img gocv.Mat, region frame.Box) []frame.Detection {
	outputs := e.forward(net, img)
	defer func() {
		for _, output := range outputs {
			output.Close()
		}
	}()
	if len(outputs) == 0 {
		return nil
	}
	scores := outputs[0].Reshape(1, 1)
	defer scores.Close()
	_, confidence, _, class_id := gocv.MinMaxLoc(scores)
	if confidence < e.cfg.ConfidenceThreshold || !e.wanted(class_id.X) {
		return nil
	}
	return []frame.Detection{{ClassID: class_id.X, Score: float64(confidence), Box: region}}
}

func (e *Engine) wanted(class int) bool {
	return len(e.cfg.ClassIDs) == 0 || slices.Contains(e.cfg.ClassIDs, class)
}

func crop(img gocv.Mat, b frame.Box) (gocv.Mat, bool) {
	r := image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).
		Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if r.Empty() {
		return gocv.Mat{}, false
	}
	return img.Region(r), true
}
