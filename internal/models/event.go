package models

import "time"

// UsageEvent is one immutable usage fact recorded for a tenant.
type UsageEvent struct {
	ID              int64          `json:"id"`
	EventID         string         `json:"event_id"`
	TenantID        int64          `json:"tenant_id"`
	UserID          *int64         `json:"user_id,omitempty"`
	FeatureID       int64          `json:"feature_id"`
	EventType       string         `json:"event_type"`
	SessionDuration float64        `json:"session_duration"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// DefaultEventType is used when the client does not tag an event.
const DefaultEventType = "interaction"

// EventTrackRequest is the POST /events/track payload.
// event_id is optional; best practice is to pass Idempotency-Key header for retries.
// timestamp defaults to the time the server receives the event.
type EventTrackRequest struct {
	EventID         string         `json:"event_id,omitempty"`
	UserID          *int64         `json:"user_id,omitempty"`
	FeatureID       int64          `json:"feature_id"`
	EventType       string         `json:"event_type,omitempty"`
	SessionDuration float64        `json:"session_duration"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       string         `json:"timestamp,omitempty"`
}

// EventTrackResponse is returned by POST /events/track.
// Duplicate indicates idempotent success (the event already existed).
type EventTrackResponse struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Duplicate bool      `json:"duplicate"`
}

// Feature is a named product capability instrumented for usage.
type Feature struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// FeatureCreateRequest is the POST /features payload.
type FeatureCreateRequest struct {
	Name string `json:"name"`
}
