package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventUserJoin         EventType = "user-join"
	EventUserLeave        EventType = "user-leave"
	EventContentChange    EventType = "content-change"
	EventCursorMove       EventType = "cursor-move"
	EventVersionCreate    EventType = "version-create"
	EventConflictDetected EventType = "conflict-detected"
)

// Event is the envelope exchanged between replicas. Payload holds a User for
// join/leave, CursorPayload for cursor-move, Change for content-change,
// VersionPayload for version-create and ConflictResolution for conflict-detected.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Origin     string          `json:"origin,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

type CursorPayload struct {
	Position  int        `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
}

type VersionPayload struct {
	Version     Version `json:"version"`
	Description string  `json:"description,omitempty"`
	// Snapshot is set for explicitly created versions. Versions produced by
	// edits and rollbacks travel with their content-change event instead.
	Snapshot bool `json:"snapshot,omitempty"`
}

// NewEvent marshals payload into a new envelope.
func NewEvent(id string, typ EventType, documentID, userID string, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:         id,
		Type:       typ,
		DocumentID: documentID,
		UserID:     userID,
		Timestamp:  at,
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
