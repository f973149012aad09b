// Package aggregate provides the bounded, sequence-stamped record
// buffer the controller polls.
//
// The buffer is the bridge's only backpressure mechanism: a slow
// controller loses the oldest records to eviction instead of blocking
// the socket reader or growing memory without bound.
package aggregate

import (
	"sync"

	"github.com/justapithecus/gantry/types"
)

// DefaultCapacity is the record capacity used when none is configured.
const DefaultCapacity = 2048

// Buffer is an ordered, bounded record buffer with single-producer
// (socket reader) / single-consumer (controller poll) discipline.
// A mutex gives both sides a consistent snapshot; neither path ever
// blocks on transport I/O.
type Buffer struct {
	mu       sync.Mutex
	records  []types.Record
	capacity int
	nextSeq  int64
	evicted  int64
	counts   map[types.RecordKind]int64
}

// New creates a buffer with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		records:  make([]types.Record, 0, capacity),
		capacity: capacity,
		nextSeq:  1,
		counts:   make(map[types.RecordKind]int64),
	}
}

// Append stamps the record with the next sequence number and stores it,
// evicting the oldest record at capacity. Always succeeds. Sequence
// numbers are strictly increasing and gap-free within a connection and
// never reused.
func (b *Buffer) Append(rec types.Record) types.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec.Seq = b.nextSeq
	b.nextSeq++

	if len(b.records) >= b.capacity {
		// Shift instead of reslice so the backing array does not pin
		// evicted records.
		copy(b.records, b.records[1:])
		b.records = b.records[:len(b.records)-1]
		b.evicted++
	}
	b.records = append(b.records, rec)
	b.counts[rec.Kind]++
	return rec
}

// KindCounts returns cumulative append counts per record kind since
// the last Clear. Eviction does not decrement these.
func (b *Buffer) KindCounts() map[types.RecordKind]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[types.RecordKind]int64, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

// DrainSince returns, in order, all records with sequence number
// greater than seq without removing them. Calling it twice with the
// same argument and no intervening Append returns identical results,
// so a poller tracks its own cursor and neither loses nor duplicates
// output across polls (evicted records excepted).
func (b *Buffer) DrainSince(seq int64) []types.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Records are in seq order; binary search would work, but the
	// buffer is small and this keeps it obvious.
	start := len(b.records)
	for i, rec := range b.records {
		if rec.Seq > seq {
			start = i
			break
		}
	}
	out := make([]types.Record, len(b.records)-start)
	copy(out, b.records[start:])
	return out
}

// Clear resets records and sequence numbering. Called on explicit
// disconnect so a later reconnect starts a fresh sequence space and
// never mixes stale and new output.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = b.records[:0]
	b.nextSeq = 1
	b.evicted = 0
	b.counts = make(map[types.RecordKind]int64)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// LastSeq returns the highest sequence number stamped so far, zero if
// none.
func (b *Buffer) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq - 1
}

// Evicted returns the number of records lost to capacity eviction.
func (b *Buffer) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
