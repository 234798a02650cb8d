package models

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/PratikDhanave/event-ingestion-service/internal/jsoncodec"
)

// EventType discriminates the kinds of behavioral events an SDK emits.
type EventType string

const (
	EventTypeSession    EventType = "session"
	EventTypeStep       EventType = "step"
	EventTypeTrack      EventType = "track"
	EventTypeConversion EventType = "conversion"
	EventTypeIdentify   EventType = "identify"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeSession, EventTypeStep, EventTypeTrack, EventTypeConversion, EventTypeIdentify:
		return true
	}
	return false
}

// requiresName reports whether events of this type must carry a name.
func (t EventType) requiresName() bool {
	return t == EventTypeStep || t == EventTypeTrack || t == EventTypeConversion
}

// EventInput is one event as sent by an SDK.
// event_id is optional; SDKs should set it so retried requests can be deduplicated.
type EventInput struct {
	EventID   string         `json:"event_id,omitempty" binding:"omitempty,max=128"`
	Type      EventType      `json:"type" binding:"required"`
	Name      string         `json:"name,omitempty" binding:"max=256"`
	SessionID string         `json:"session_id,omitempty" binding:"max=128"`
	UserID    string         `json:"user_id,omitempty" binding:"max=256"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventIngestRequest is the POST /v1/events payload.
type EventIngestRequest struct {
	Events []EventInput `json:"events" binding:"dive"`
}

// EventIngestResponse is returned by POST /v1/events.
type EventIngestResponse struct {
	Accepted int      `json:"accepted"`
	EventIDs []string `json:"event_ids"`
}

// Event is a validated event bound to a project. Immutable once accepted.
type Event struct {
	EventID     string
	Type        EventType
	Name        string
	ProjectID   string
	WorkspaceID string
	SessionID   string
	UserID      string
	TraceID     string
	Timestamp   time.Time
	ReceivedAt  time.Time
	Metadata    map[string]any
}

// ParseEventInputs accepts an {"events":[...]} envelope, a bare JSON array of
// events, or a single event object.
func ParseEventInputs(body []byte) ([]EventInput, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	if body[0] == '[' {
		var events []EventInput
		if err := jsoncodec.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var envelope struct {
		EventIngestRequest
		EventInput
	}
	if err := jsoncodec.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Events != nil {
		return envelope.Events, nil
	}
	if envelope.Type != "" {
		return []EventInput{envelope.EventInput}, nil
	}
	return nil, errors.New("no events in body")
}

// Validate checks the semantic rules the binding tags cannot express.
func (in EventInput) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("unknown event type %q", in.Type)
	}
	if in.Type.requiresName() && in.Name == "" {
		return fmt.Errorf("%s events require a name", in.Type)
	}
	if in.Type == EventTypeSession && in.SessionID == "" {
		return errors.New("session events require session_id")
	}
	if in.Timestamp != "" {
		if _, err := parseRFC3339(in.Timestamp); err != nil {
			return errors.New("timestamp must be RFC3339")
		}
	}
	return nil
}

// ToEvent converts a validated input into an Event. Missing timestamps
// default to receivedAt.
func (in EventInput) ToEvent(eventID string, receivedAt time.Time) Event {
	ts := receivedAt
	if in.Timestamp != "" {
		if parsed, err := parseRFC3339(in.Timestamp); err == nil {
			ts = parsed
		}
	}
	return Event{
		EventID:    eventID,
		Type:       in.Type,
		Name:       in.Name,
		SessionID:  in.SessionID,
		UserID:     in.UserID,
		Timestamp:  ts,
		ReceivedAt: receivedAt.UTC(),
		Metadata:   in.Metadata,
	}
}

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
