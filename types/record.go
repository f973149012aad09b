// Package types defines the shared data model for the telemetry and
// command bridges per PROTOCOL.md.
package types

import "time"

// RecordKind classifies a decoded debug-stream record.
type RecordKind string

// Record kind constants per PROTOCOL.md.
const (
	// RecordKindLog is a framed text span with no severity prefix.
	RecordKindLog RecordKind = "log"
	// RecordKindWarning is a framed text span with a warning prefix.
	RecordKindWarning RecordKind = "warning"
	// RecordKindError is a framed text span with an error prefix.
	RecordKindError RecordKind = "error"
	// RecordKindUnknown is a printable run recovered by the fallback
	// pass, or a synthetic marker such as the end-of-stream record.
	RecordKindUnknown RecordKind = "unknown"
)

// Record is a single decoded unit of the debug byte stream.
// Immutable once produced. Seq is stamped by the output aggregator and
// is strictly increasing and gap-free within a connection.
//
// Msgpack tags match the capture file format per PROTOCOL.md.
type Record struct {
	// Seq is the monotonic per-connection sequence number, starts at 1.
	// Zero on records not yet appended to an aggregator.
	Seq int64 `msgpack:"seq" json:"seq"`
	// Kind is the record classification.
	Kind RecordKind `msgpack:"kind" json:"kind"`
	// Text is the decoded payload text.
	Text string `msgpack:"text" json:"text"`
	// Offset is the origin byte offset of the span in the connection's
	// stream, kept for diagnostics.
	Offset int64 `msgpack:"offset" json:"offset"`
	// Ts is the decode timestamp in ISO 8601 UTC format.
	Ts string `msgpack:"ts" json:"ts"`
}

// NewRecord constructs an unsequenced record stamped with the current time.
func NewRecord(kind RecordKind, text string, offset int64) Record {
	return Record{
		Kind:   kind,
		Text:   text,
		Offset: offset,
		Ts:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ConnectionEndedText is the payload of the synthetic record emitted
// when the debug socket closes, so pollers observe end-of-stream
// deterministically.
const ConnectionEndedText = "connection ended"

// IsConnectionEnded reports whether r is the synthetic end-of-stream record.
func (r Record) IsConnectionEnded() bool {
	return r.Kind == RecordKindUnknown && r.Text == ConnectionEndedText
}
