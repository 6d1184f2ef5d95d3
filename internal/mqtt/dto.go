package mqtt

import (
	"time"

	"github.com/hydroguard/pestwatch/internal/analysis"
	"github.com/hydroguard/pestwatch/internal/detector"
)

// DetectionMessage is the JSON payload published for every analyzed image.
// Field names are consumed by dashboards; add fields rather than renaming.
type DetectionMessage struct {
	Timestamp     time.Time            `json:"timestamp"`
	Source        string               `json:"source"` // bytes, url, data-uri, path
	Date          string               `json:"date,omitempty"`
	Time          string               `json:"time,omitempty"`
	StatusUlat    string               `json:"status_ulat"`
	PestPresent   bool                 `json:"pestPresent"`
	PhotoDetected string               `json:"photo_detected"`
	Detections    []detector.Detection `json:"detections"`
	Labels        []string             `json:"labels"`
	Width         int                  `json:"width"`
	Height        int                  `json:"height"`
	ProcessingMs  int64                `json:"processingMs"`
}

// NewDetectionMessage converts a pipeline result into its published form.
func NewDetectionMessage(res *analysis.Result) DetectionMessage {
	msg := DetectionMessage{
		Timestamp:     res.ProcessedAt.UTC(),
		Source:        string(res.Source),
		StatusUlat:    res.PestFlag(),
		PestPresent:   res.PestPresent,
		PhotoDetected: res.PhotoURL,
		Detections:    res.Detections,
		Labels:        detector.Labels(res.Detections),
		Width:         res.Width,
		Height:        res.Height,
		ProcessingMs:  res.Duration.Milliseconds(),
	}
	if res.Record != nil {
		msg.Date = res.Record.Date
		msg.Time = res.Record.Time
	}
	if msg.Detections == nil {
		msg.Detections = []detector.Detection{}
	}
	return msg
}
