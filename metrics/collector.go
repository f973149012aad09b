// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters for one bridge session. It is a
// leaf package with no internal dependencies. Decoder counters are
// absorbed from frame.Decoder stats at disconnect rather than recorded
// live, avoiding double-counting on the hot read path.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Debug socket path
	ConnectsAttempted int64
	ConnectsFailed    int64
	Disconnects       int64
	BytesReceived     int64
	RecordsDecoded    int64
	RecordsEvicted    int64

	// Decoder (absorbed at disconnect)
	FramesDecoded   int64
	FallbackRecords int64
	BytesDropped    int64
	OverflowTrims   int64

	// Command channel
	CommandsSent       int64
	ResponsesMatched   int64
	CommandTimeouts    int64
	ProtocolMismatches int64
	ChildExits         int64

	// Fanout
	PublishSuccess int64
	PublishFailure int64

	// Dimensions (informational, set at construction)
	SessionID string
	Endpoint  string
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver
// safe so components without metrics wiring need no branches.
type Collector struct {
	mu sync.Mutex

	connectsAttempted int64
	connectsFailed    int64
	disconnects       int64
	bytesReceived     int64
	recordsDecoded    int64
	recordsEvicted    int64

	framesDecoded   int64
	fallbackRecords int64
	bytesDropped    int64
	overflowTrims   int64

	commandsSent       int64
	responsesMatched   int64
	commandTimeouts    int64
	protocolMismatches int64
	childExits         int64

	publishSuccess int64
	publishFailure int64

	sessionID string
	endpoint  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, endpoint string) *Collector {
	return &Collector{sessionID: sessionID, endpoint: endpoint}
}

// --- Debug socket path ---

// IncConnectAttempted records a connect request.
func (c *Collector) IncConnectAttempted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectsAttempted++
	c.mu.Unlock()
}

// IncConnectFailed records a failed connect.
func (c *Collector) IncConnectFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectsFailed++
	c.mu.Unlock()
}

// IncDisconnect records a connection teardown, controller-initiated or
// transport-initiated.
func (c *Collector) IncDisconnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

// AddBytesReceived records inbound socket bytes.
func (c *Collector) AddBytesReceived(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesReceived += n
	c.mu.Unlock()
}

// AddRecordsDecoded records appended records.
func (c *Collector) AddRecordsDecoded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsDecoded += n
	c.mu.Unlock()
}

// SetRecordsEvicted records the aggregator's eviction count.
func (c *Collector) SetRecordsEvicted(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsEvicted = n
	c.mu.Unlock()
}

// --- Command channel ---

// IncCommandSent records a command written to the child.
func (c *Collector) IncCommandSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsSent++
	c.mu.Unlock()
}

// IncResponseMatched records a response delivered to its waiter.
func (c *Collector) IncResponseMatched() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.responsesMatched++
	c.mu.Unlock()
}

// IncCommandTimeout records a request that expired unanswered.
func (c *Collector) IncCommandTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandTimeouts++
	c.mu.Unlock()
}

// IncProtocolMismatch records a response line with no matching waiter.
func (c *Collector) IncProtocolMismatch() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolMismatches++
	c.mu.Unlock()
}

// IncChildExit records a child stdout closure with requests pending.
func (c *Collector) IncChildExit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.childExits++
	c.mu.Unlock()
}

// --- Fanout ---

// IncPublishSuccess records a successful adapter publish.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publishSuccess++
	c.mu.Unlock()
}

// IncPublishFailure records a failed adapter publish.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publishFailure++
	c.mu.Unlock()
}

// --- Decoder absorption ---

// AbsorbDecoderStats copies decoder counters into the collector.
// Called once per connection at teardown with the final decoder stats.
// Plain int64 parameters keep this package free of a frame dependency.
func (c *Collector) AbsorbDecoderStats(frames, fallback, dropped, trims int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDecoded += frames
	c.fallbackRecords += fallback
	c.bytesDropped += dropped
	c.overflowTrims += trims
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectsAttempted: c.connectsAttempted,
		ConnectsFailed:    c.connectsFailed,
		Disconnects:       c.disconnects,
		BytesReceived:     c.bytesReceived,
		RecordsDecoded:    c.recordsDecoded,
		RecordsEvicted:    c.recordsEvicted,

		FramesDecoded:   c.framesDecoded,
		FallbackRecords: c.fallbackRecords,
		BytesDropped:    c.bytesDropped,
		OverflowTrims:   c.overflowTrims,

		CommandsSent:       c.commandsSent,
		ResponsesMatched:   c.responsesMatched,
		CommandTimeouts:    c.commandTimeouts,
		ProtocolMismatches: c.protocolMismatches,
		ChildExits:         c.childExits,

		PublishSuccess: c.publishSuccess,
		PublishFailure: c.publishFailure,

		SessionID: c.sessionID,
		Endpoint:  c.endpoint,
	}
}
