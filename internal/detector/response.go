package detector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Inference services answer in one of a few shapes:
//
//	{"detections": [{"class": "ulat", "confidence": 0.91, "bbox": [x1, y1, x2, y2]}]}
//	[{"name": "ulat", "class": 0, "confidence": 0.91, "box": {"x1": .., "y1": .., "x2": .., "y2": ..}}]
//	{"predictions": [{"label": "ulat", "score": 0.91, "box": [x1, y1, x2, y2]}]}
//
// parseResponse accepts all of them.
func parseResponse(raw []byte) ([]Detection, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty detector response")
	}

	var items []wireDetection
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode detector response: %w", err)
		}
	case '{':
		var env struct {
			Detections  []wireDetection `json:"detections"`
			Predictions []wireDetection `json:"predictions"`
			Results     []wireDetection `json:"results"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode detector response: %w", err)
		}
		switch {
		case env.Detections != nil:
			items = env.Detections
		case env.Predictions != nil:
			items = env.Predictions
		default:
			items = env.Results
		}
	default:
		return nil, fmt.Errorf("unexpected detector response starting with %q", raw[0])
	}

	out := make([]Detection, 0, len(items))
	for i := range items {
		det, err := items[i].toDetection()
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		out = append(out, det)
	}
	return out, nil
}

type wireDetection struct {
	Box  *wireBox `json:"box"`
	BBox *wireBox `json:"bbox"`
	XYXY *wireBox `json:"xyxy"`

	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Conf       *float64 `json:"conf"`

	Label string          `json:"label"`
	Name  string          `json:"name"`
	Class json.RawMessage `json:"class"`
}

func (w *wireDetection) toDetection() (Detection, error) {
	box := firstBox(w.Box, w.BBox, w.XYXY)
	if box == nil {
		return Detection{}, fmt.Errorf("missing bounding box")
	}

	var score float64
	switch {
	case w.Score != nil:
		score = *w.Score
	case w.Confidence != nil:
		score = *w.Confidence
	case w.Conf != nil:
		score = *w.Conf
	default:
		return Detection{}, fmt.Errorf("missing confidence score")
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Detection{}, fmt.Errorf("confidence %v outside 0..1", score)
	}

	label := w.Label
	if label == "" {
		label = w.Name
	}
	if label == "" && len(w.Class) > 0 {
		// "class" is the label in some services and the class index in others
		var s string
		if err := json.Unmarshal(w.Class, &s); err == nil {
			label = s
		} else {
			label = string(w.Class)
		}
	}
	if label == "" {
		return Detection{}, fmt.Errorf("missing label")
	}

	return Detection{
		Box: [4]int{
			int(math.Round(box.x1)), int(math.Round(box.y1)),
			int(math.Round(box.x2)), int(math.Round(box.y2)),
		},
		Score: score,
		Label: label,
	}, nil
}

func firstBox(boxes ...*wireBox) *wireBox {
	for _, b := range boxes {
		if b != nil {
			return b
		}
	}
	return nil
}

// wireBox decodes either [x1, y1, x2, y2] or {"x1":..,"y1":..,"x2":..,"y2":..}.
type wireBox struct {
	x1, y1, x2, y2 float64
}

func (b *wireBox) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var coords []float64
		if err := json.Unmarshal(data, &coords); err != nil {
			return err
		}
		if len(coords) != 4 {
			return fmt.Errorf("box has %d coordinates, want 4", len(coords))
		}
		b.x1, b.y1, b.x2, b.y2 = coords[0], coords[1], coords[2], coords[3]
		return nil
	}

	var obj struct {
		X1 *float64 `json:"x1"`
		Y1 *float64 `json:"y1"`
		X2 *float64 `json:"x2"`
		Y2 *float64 `json:"y2"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.X1 == nil || obj.Y1 == nil || obj.X2 == nil || obj.Y2 == nil {
		return fmt.Errorf("box object needs x1, y1, x2 and y2")
	}
	b.x1, b.y1, b.x2, b.y2 = *obj.X1, *obj.Y1, *obj.X2, *obj.Y2
	return nil
}
