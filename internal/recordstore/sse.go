package recordstore

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// Watch opens the server-sent event stream for the newest date under the
// record root. The returned channel delivers events until the stream ends, a
// cancel or auth_revoked event arrives, or ctx is done.
func (s *FirebaseStore) Watch(ctx context.Context) (<-chan Event, error) {
	// The first put carries the whole watched subtree; limit it to the
	// newest date so the snapshot stays small.
	q := url.Values{}
	q.Set("orderBy", `"$key"`)
	q.Set("limitToLast", "1")

	req, err := s.newRequest(ctx, http.MethodGet, s.root, q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.DoStream(ctx, req)
	if err != nil {
		return nil, storeError(err, "watch")
	}
	if err := checkStatus(resp, "watch"); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()

		err := readEvents(ctx, resp.Body, func(ev Event) bool {
			select {
			case events <- ev:
			case <-ctx.Done():
				return false
			}
			return !ev.Terminal()
		})
		if err != nil && ctx.Err() == nil {
			s.log.Warn("record stream ended with error", logger.Error(err))
		}
	}()
	return events, nil
}

// readEvents parses an event stream and calls emit for each complete event
// until emit returns false or the stream ends. Lines are not length capped.
func readEvents(ctx context.Context, r io.Reader, emit func(Event) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		eventType string
		data      strings.Builder
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if eventType == "" && data.Len() == 0 {
				continue
			}
			ev, err := decodeEvent(eventType, data.String())
			eventType = ""
			data.Reset()
			if err != nil {
				return err
			}
			if !emit(ev) {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}

// decodeEvent turns one raw event into an Event. put and patch carry
// {"path": ..., "data": ...}; the others carry free-form data.
func decodeEvent(eventType, data string) (Event, error) {
	ev := Event{Type: EventType(eventType)}
	switch ev.Type {
	case EventPut, EventPatch:
		var body struct {
			Path string          `json:"path"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return ev, errors.Newf("malformed %s event: %v", eventType, err).
				Component(componentName).
				Category(errors.CategoryRecordStore).
				Context("operation", "watch").
				Build()
		}
		ev.Path = body.Path
		ev.Data = body.Data
	default:
		if data != "" && data != "null" {
			ev.Data = json.RawMessage(data)
		}
	}
	return ev, nil
}

// Keys returns the record keys an event touches. A put or patch at the root
// carries a date map, at a date a time map, and at a record its fields.
func (e Event) Keys() []Key {
	if e.Type != EventPut && e.Type != EventPatch {
		return nil
	}
	segs := splitPath(e.Path)
	switch len(segs) {
	case 0:
		var dates map[string]map[string]json.RawMessage
		if json.Unmarshal(e.Data, &dates) != nil {
			return nil
		}
		var keys []Key
		for d, times := range dates {
			for t := range times {
				keys = append(keys, Key{Date: d, Time: t})
			}
		}
		return keys
	case 1:
		var times map[string]json.RawMessage
		if json.Unmarshal(e.Data, &times) != nil {
			return nil
		}
		keys := make([]Key, 0, len(times))
		for t := range times {
			keys = append(keys, Key{Date: segs[0], Time: t})
		}
		return keys
	default:
		return []Key{{Date: segs[0], Time: segs[1]}}
	}
}
