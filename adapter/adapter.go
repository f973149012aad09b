// Package adapter defines the fanout boundary for session
// notifications.
//
// Adapters publish a summary event when a debug session closes so
// downstream systems (dashboards, alerting, replay tooling) learn
// about it without polling the bridge. The session owns adapter
// lifecycle; users provide configuration only.
package adapter

import "context"

// SessionClosedEvent is the payload published when a debug session
// disconnects.
type SessionClosedEvent struct {
	EventType     string `json:"event_type"` // always "session_closed"
	SessionID     string `json:"session_id"`
	Endpoint      string `json:"endpoint"`
	BytesReceived int64  `json:"bytes_received"`
	Records       int64  `json:"records"`
	Errors        int64  `json:"errors"`
	Warnings      int64  `json:"warnings"`
	DurationMs    int64  `json:"duration_ms"`
	Timestamp     string `json:"timestamp"` // ISO 8601
}

// EventTypeSessionClosed is the fixed event type tag.
const EventTypeSessionClosed = "session_closed"

// Adapter publishes session events to a downstream system.
type Adapter interface {
	// Publish sends a session event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionClosedEvent) error

	// Close releases adapter resources.
	Close() error
}
