// Package recordstore reads camera snapshot records from the remote record
// store and writes detection results back onto them.
//
// Records live under a root node keyed by date (YYYY-MM-DD) and then by time
// of day (HH:MM:SS). Each record carries the original photo URL and, once
// processed, the annotated photo URL and the pest flag.
package recordstore

import (
	"context"
	"encoding/json"
	"strconv"
)

// Key addresses one record.
type Key struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// String returns "date/time".
func (k Key) String() string { return k.Date + "/" + k.Time }

// IsZero reports whether k is unset.
func (k Key) IsZero() bool { return k.Date == "" && k.Time == "" }

// Less orders keys chronologically. Both levels are fixed-width, so string
// order is time order.
func (k Key) Less(o Key) bool {
	if k.Date != o.Date {
		return k.Date < o.Date
	}
	return k.Time < o.Time
}

// Record is one camera snapshot record.
type Record struct {
	Key           Key
	Photo         string // original snapshot reference
	PhotoDetected string // annotated image URL, empty until processed
	PestFlag      string // "true" or "false", empty until processed
	Raw           map[string]json.RawMessage
}

// Processed reports whether a detection pass already wrote back to the record.
func (r *Record) Processed() bool {
	return r.PhotoDetected != ""
}

// DetectionUpdate is written onto a record after detection.
type DetectionUpdate struct {
	PhotoDetected string
	PestPresent   bool
}

// PestFlag renders the flag the way records store it.
func (u DetectionUpdate) PestFlag() string {
	return strconv.FormatBool(u.PestPresent)
}

// EventType names a change notification from Watch.
type EventType string

const (
	EventPut         EventType = "put"
	EventPatch       EventType = "patch"
	EventKeepAlive   EventType = "keep-alive"
	EventCancel      EventType = "cancel"
	EventAuthRevoked EventType = "auth_revoked"
)

// Event is one change notification. Path is relative to the watched root.
type Event struct {
	Type EventType
	Path string
	Data json.RawMessage
}

// Terminal reports whether the server closes the stream after this event.
func (e Event) Terminal() bool {
	return e.Type == EventCancel || e.Type == EventAuthRevoked
}

// Store is the remote record store.
type Store interface {
	// Latest returns the newest record. It fails with a not-found error when
	// the store holds no records.
	Latest(ctx context.Context) (*Record, error)
	// Get reads the record at key. It fails with a not-found error when no
	// record exists there.
	Get(ctx context.Context, key Key) (*Record, error)
	// Update writes a detection result onto the record at key.
	Update(ctx context.Context, key Key, upd DetectionUpdate) error
	// Watch streams change notifications until ctx ends or the server closes
	// the stream; the channel is closed then.
	Watch(ctx context.Context) (<-chan Event, error)
}
