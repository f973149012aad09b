// Package render formats records and responses for CLI output.
//
// Styling is lipgloss-based and degrades to plain text on dumb
// terminals. Renderers are pure functions over the data payloads; the
// TUI uses the same payloads (no render-exclusive data).
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/gantry/metrics"
	"github.com/justapithecus/gantry/types"
)

// Color palette.
var (
	errorColor   = lipgloss.Color("#EF4444") // Red
	warningColor = lipgloss.Color("#F59E0B") // Amber
	logColor     = lipgloss.Color("#FFFFFF") // White
	unknownColor = lipgloss.Color("#6B7280") // Gray
	seqColor     = lipgloss.Color("#3B82F6") // Blue
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	logStyle     = lipgloss.NewStyle().Foreground(logColor)
	unknownStyle = lipgloss.NewStyle().Foreground(unknownColor).Faint(true)
	seqStyle     = lipgloss.NewStyle().Foreground(seqColor)
)

// KindStyle returns the style for a record kind.
func KindStyle(kind types.RecordKind) lipgloss.Style {
	switch kind {
	case types.RecordKindError:
		return errorStyle
	case types.RecordKindWarning:
		return warningStyle
	case types.RecordKindUnknown:
		return unknownStyle
	default:
		return logStyle
	}
}

// Record renders one record as a single line.
func Record(rec types.Record) string {
	seq := seqStyle.Render(fmt.Sprintf("%6d", rec.Seq))
	kind := KindStyle(rec.Kind).Render(fmt.Sprintf("%-8s", string(rec.Kind)))
	return fmt.Sprintf("%s %s %s", seq, kind, KindStyle(rec.Kind).Render(rec.Text))
}

// Response renders a command response. Large payload fields (base64
// image data) are summarized by length rather than dumped.
func Response(resp *types.ResponseEnvelope) string {
	var b strings.Builder
	status := "ok"
	style := logStyle
	if resp.IsError() {
		status = "failed"
		style = errorStyle
	}
	b.WriteString(style.Render(fmt.Sprintf("%s: %s", resp.Type, status)))

	keys := make([]string, 0, len(resp.Fields))
	for k := range resp.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := resp.Fields[k]
		if s, ok := v.(string); ok && len(s) > 64 {
			v = fmt.Sprintf("<%d bytes>", len(s))
		}
		b.WriteString(fmt.Sprintf("\n  %s: %v", k, v))
	}
	return b.String()
}

// Stats renders a session metrics snapshot as aligned rows.
func Stats(snap metrics.Snapshot) string {
	rows := [][2]string{
		{"bytes received", fmt.Sprintf("%d", snap.BytesReceived)},
		{"records decoded", fmt.Sprintf("%d", snap.RecordsDecoded)},
		{"framed records", fmt.Sprintf("%d", snap.FramesDecoded)},
		{"fallback records", fmt.Sprintf("%d", snap.FallbackRecords)},
		{"bytes dropped", fmt.Sprintf("%d", snap.BytesDropped)},
		{"records evicted", fmt.Sprintf("%d", snap.RecordsEvicted)},
		{"commands sent", fmt.Sprintf("%d", snap.CommandsSent)},
		{"responses matched", fmt.Sprintf("%d", snap.ResponsesMatched)},
		{"command timeouts", fmt.Sprintf("%d", snap.CommandTimeouts)},
		{"protocol mismatches", fmt.Sprintf("%d", snap.ProtocolMismatches)},
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%-20s %s\n", row[0], row[1]))
	}
	return b.String()
}
