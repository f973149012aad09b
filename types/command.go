package types

import (
	"encoding/json"
	"fmt"
)

// Command action constants per PROTOCOL.md.
const (
	// ActionScreenshot captures the engine viewport.
	// Parameters: format (one of ScreenshotFormats, default "png").
	ActionScreenshot = "screenshot"
	// ActionClick simulates a pointer click.
	// Parameters: x (int), y (int), button (int code, default left).
	ActionClick = "click"
)

// ResponseTypeError is the type tag of dispatcher-side failure responses.
const ResponseTypeError = "error"

// ScreenshotFormats is the set of accepted screenshot encodings.
var ScreenshotFormats = map[string]bool{
	"png":  true,
	"jpg":  true,
	"webp": true,
}

// Mouse button codes per PROTOCOL.md.
const (
	ButtonLeft   = 1
	ButtonRight  = 2
	ButtonMiddle = 3
)

// CommandEnvelope is the JSON body of a command marker line written to
// the child's stdin. Written once, immutable.
type CommandEnvelope struct {
	// Action is the command type tag.
	Action string `json:"action"`
	// Params holds action-specific parameters (primitive values only).
	Params map[string]any `json:"params,omitempty"`
	// ID is the correlation id. The observed dispatcher does not echo
	// it back; it is carried for logging and future protocol evolution
	// (see PROTOCOL.md, correlation weakness).
	ID string `json:"id"`
}

// ResponseEnvelope is the JSON body of a response marker line read from
// the child's stdout. Immutable once parsed.
type ResponseEnvelope struct {
	// Type echoes the command action, or "error".
	Type string `json:"type"`
	// Success reports whether the dispatcher executed the command.
	Success bool `json:"success"`
	// Fields holds the action-specific payload (e.g. base64 image data
	// and dimensions for screenshots, or an error message).
	Fields map[string]any `json:"-"`
}

// ParseResponseEnvelope decodes a marker-line JSON body.
// Unrecognized top-level keys land in Fields; "type" and "success" are
// lifted into their typed slots.
func ParseResponseEnvelope(body []byte) (*ResponseEnvelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid response body: %w", err)
	}

	typ, ok := raw["type"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("response missing type tag")
	}
	success, _ := raw["success"].(bool)

	delete(raw, "type")
	delete(raw, "success")

	return &ResponseEnvelope{
		Type:    typ,
		Success: success,
		Fields:  raw,
	}, nil
}

// IsError reports whether the envelope is a dispatcher-side failure.
func (r *ResponseEnvelope) IsError() bool {
	return r.Type == ResponseTypeError || !r.Success
}

// ErrorMessage returns the dispatcher-provided message for failed
// responses, or an empty string.
func (r *ResponseEnvelope) ErrorMessage() string {
	if msg, ok := r.Fields["message"].(string); ok {
		return msg
	}
	return ""
}

// Int extracts an integer field, tolerating the float64 that
// encoding/json produces for JSON numbers.
func (r *ResponseEnvelope) Int(key string) (int, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// String extracts a string field.
func (r *ResponseEnvelope) String(key string) (string, bool) {
	v, ok := r.Fields[key].(string)
	return v, ok
}
