// Package frame implements the heuristic decoder for the engine debug
// stream per PROTOCOL.md.
//
// The debug port carries a best-effort mix of length-prefixed text
// frames and free-form bytes with no reliable framing guarantee. The
// decoder runs two composable passes over an internal byte accumulator:
//
//  1. Length-prefix scan: a windowed scan interpreting 4 bytes as a
//     little-endian length; a plausible length followed by a complete,
//     valid text payload is claimed as a framed record.
//  2. Printable-run fallback: maximal runs of whitelisted printable
//     characters (length >= 3) in regions pass 1 did not claim are
//     emitted as Unknown records, guaranteeing forward progress when
//     the prefix heuristic fails to align.
//
// Decoding never blocks and never fails: unparseable input degrades to
// Unknown records or is dropped by the bounded-buffer trim.
package frame

import (
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/justapithecus/gantry/types"
)

// Decoder size constants per PROTOCOL.md.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// DefaultMaxFrameSize is the plausibility bound for prefix lengths.
	DefaultMaxFrameSize = 1 << 20
	// DefaultScanWindow bounds how many offsets pass 1 examines beyond
	// the last claim, avoiding quadratic rescans on hostile streams.
	DefaultScanWindow = 4096
	// DefaultMaxRetained is the accumulator high-water mark.
	DefaultMaxRetained = 4 << 20
	// DefaultTailKeep is how much trailing data survives an overflow trim.
	DefaultTailKeep = 64 << 10
	// MinRunLength is the minimum printable-run length pass 2 emits.
	MinRunLength = 3
)

// runPunctuation is the whitelisted punctuation for fallback runs,
// alongside letters, digits, and space.
const runPunctuation = " ._-:/\\(),[]{}'\"=+%@#"

// Config tunes decoder bounds. Zero values select the defaults.
type Config struct {
	// MaxFrameSize is the upper plausibility bound for prefix lengths.
	MaxFrameSize int
	// ScanWindow bounds pass-1 offsets examined beyond the last claim.
	ScanWindow int
	// MaxRetained is the accumulator high-water mark; exceeding it
	// without consumption triggers a lossy trim down to TailKeep.
	MaxRetained int
	// TailKeep is the trailing byte count kept on overflow.
	TailKeep int
}

func (c Config) withDefaults() Config {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = DefaultScanWindow
	}
	if c.MaxRetained <= 0 {
		c.MaxRetained = DefaultMaxRetained
	}
	if c.TailKeep <= 0 || c.TailKeep > c.MaxRetained {
		c.TailKeep = DefaultTailKeep
	}
	return c
}

// Stats reports decoder activity since construction.
type Stats struct {
	// BytesConsumed is the count of bytes resolved out of the buffer.
	BytesConsumed int64
	// BytesDropped counts bytes sacrificed by overflow trims.
	BytesDropped int64
	// FramesDecoded counts pass-1 records.
	FramesDecoded int64
	// FallbackRecords counts pass-2 records.
	FallbackRecords int64
	// OverflowTrims counts lossy-recovery trims.
	OverflowTrims int64
}

// Decoder incrementally converts an accumulated byte stream into
// records, leaving undecidable trailing bytes buffered for the next
// chunk. Not safe for concurrent use; the transport reader is the sole
// caller by design (single-reader discipline, see debugger package).
type Decoder struct {
	cfg   Config
	buf   []byte
	base  int64 // stream offset of buf[0]
	stats Stats
}

// NewDecoder creates a decoder with the given bounds.
func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg.withDefaults()}
}

// Feed appends a chunk and returns zero or more decoded records.
// Records are emitted in stream order. The set of records produced is
// independent of how the stream is split into chunks: a decision about
// any offset is committed only once enough bytes exist to make it
// final, so undecidable suffixes wait for the next chunk or Flush.
func (d *Decoder) Feed(p []byte) []types.Record {
	d.buf = append(d.buf, p...)
	out := d.decode(false)
	d.trimOverflow()
	return out
}

// Flush drains everything still buffered at end of stream: incomplete
// frame candidates are abandoned and the fallback pass claims whatever
// printable runs remain. The decoder is reusable afterwards.
func (d *Decoder) Flush() []types.Record {
	return d.decode(true)
}

// Buffered returns the number of unconsumed bytes held.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Stats returns a copy of the activity counters.
func (d *Decoder) Stats() Stats { return d.stats }

// decode runs both passes over the buffer. When flush is false, the
// suffix whose interpretation could still change with more bytes (a
// plausible but incomplete frame, fewer than 4 prefix bytes, or an
// unterminated printable run) is held back.
func (d *Decoder) decode(flush bool) []types.Record {
	var out []types.Record
	buf := d.buf
	hold := len(buf) // first byte retained for the next chunk
	gapStart := 0    // start of the region pass 1 has not claimed
	i := 0
	examined := 0

	for i < len(buf) && examined < d.cfg.ScanWindow {
		if len(buf)-i < LengthPrefixSize {
			// Cannot evaluate a prefix here yet.
			if !flush {
				hold = i
			}
			break
		}
		length := binary.LittleEndian.Uint32(buf[i:])
		if length == 0 || int64(length) > int64(d.cfg.MaxFrameSize) {
			i++
			examined++
			continue
		}
		end := i + LengthPrefixSize + int(length)
		if end > len(buf) {
			// Plausible frame, payload not fully arrived.
			if !flush {
				hold = i
				break
			}
			i++
			examined++
			continue
		}
		payload := buf[i+LengthPrefixSize : end]
		if !plausibleText(payload) {
			i++
			examined++
			continue
		}

		// Claim: resolve the preceding gap via fallback, then the frame.
		out = append(out, d.fallbackRuns(buf[gapStart:i], gapStart)...)
		text := strings.TrimRight(string(payload), "\x00\r\n")
		out = append(out, types.NewRecord(Classify(text), text, d.base+int64(i)))
		d.stats.FramesDecoded++
		gapStart = end
		i = end
		examined = 0
	}

	if !flush {
		// A printable run touching the hold boundary may extend into
		// bytes not yet decided; keep it buffered.
		for hold > gapStart && printableByte(buf[hold-1]) {
			hold--
		}
	} else {
		hold = len(buf)
	}

	out = append(out, d.fallbackRuns(buf[gapStart:hold], gapStart)...)

	// Trim everything decided.
	if hold > 0 {
		d.stats.BytesConsumed += int64(hold)
		d.base += int64(hold)
		d.buf = append(d.buf[:0], d.buf[hold:]...)
	}

	return out
}

// fallbackRuns extracts pass-2 records from a fully decided region.
// regionOff is the region's offset within the current buffer.
func (d *Decoder) fallbackRuns(region []byte, regionOff int) []types.Record {
	var out []types.Record
	i := 0
	for i < len(region) {
		if !printableByte(region[i]) {
			i++
			continue
		}
		j := i
		for j < len(region) && printableByte(region[j]) {
			j++
		}
		if j-i >= MinRunLength {
			out = append(out, types.NewRecord(
				types.RecordKindUnknown,
				string(region[i:j]),
				d.base+int64(regionOff+i),
			))
			d.stats.FallbackRecords++
		}
		i = j
	}
	return out
}

// trimOverflow enforces the retained-size bound. Losing the oldest
// unconsumed bytes here is the documented lossy-recovery policy for
// pathological streams, not a silent integrity guarantee.
func (d *Decoder) trimOverflow() {
	if len(d.buf) <= d.cfg.MaxRetained {
		return
	}
	dropped := len(d.buf) - d.cfg.TailKeep
	d.base += int64(dropped)
	d.buf = append(d.buf[:0], d.buf[dropped:]...)
	d.stats.BytesDropped += int64(dropped)
	d.stats.OverflowTrims++
}

// Classify maps framed text to a record kind by its severity prefix.
// The engine prints "ERROR:", "SCRIPT ERROR:" and "WARNING:" prefixes
// on its diagnostic lines; anything else is plain log output.
func Classify(text string) types.RecordKind {
	t := strings.TrimLeft(text, " \t")
	switch {
	case strings.HasPrefix(t, "SCRIPT ERROR"), strings.HasPrefix(t, "ERROR"), strings.HasPrefix(t, "FATAL"):
		return types.RecordKindError
	case strings.HasPrefix(t, "WARNING"):
		return types.RecordKindWarning
	default:
		return types.RecordKindLog
	}
}

// plausibleText reports whether a candidate payload decodes as valid
// text containing at least one letter. Control characters other than
// whitespace disqualify the span.
func plausibleText(payload []byte) bool {
	if len(payload) == 0 || !utf8.Valid(payload) {
		return false
	}
	hasLetter := false
	for _, r := range string(payload) {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsPrint(r), r == '\n', r == '\r', r == '\t', r == 0:
			// trailing NUL padding is tolerated
		default:
			return false
		}
	}
	return hasLetter
}

// printableByte reports membership in the fallback whitelist:
// ASCII letters, digits, and runPunctuation.
func printableByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	default:
		return strings.IndexByte(runPunctuation, b) >= 0
	}
}
