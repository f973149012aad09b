// Package debugger implements the TCP client for the engine's remote
// debug port per PROTOCOL.md.
//
// The client owns the connection lifecycle and a single reader
// goroutine; that goroutine is the only component that touches the
// socket and the only writer into the frame decoder. Decoded records
// flow into the output aggregator, where the controller polls them
// without ever blocking on socket I/O.
//
// There is no automatic reconnect: a silent reconnect could attach to
// a different engine session and corrupt sequence continuity, so
// reconnection is always an explicit controller action.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/justapithecus/gantry/aggregate"
	"github.com/justapithecus/gantry/frame"
	"github.com/justapithecus/gantry/log"
	"github.com/justapithecus/gantry/metrics"
	"github.com/justapithecus/gantry/types"
)

// Common debug-port numbers. The script debugger speaks on 6006 and
// editor sync traffic on 6007; both carry the same heuristic framing.
const (
	DefaultPort    = 6006
	EditorSyncPort = 6007
)

// DefaultDialTimeout bounds connect attempts when none is given.
const DefaultDialTimeout = 5 * time.Second

// DefaultReadBufferSize is the socket read chunk size.
const DefaultReadBufferSize = 32 << 10

// State is the connection transport state.
type State int

// Connection states. Transitions: Disconnected -> Connecting ->
// Connected -> Closing -> Disconnected.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// ErrAlreadyConnected is returned when Connect is called on a client
// that already owns a connection.
var ErrAlreadyConnected = errors.New("debugger already connected")

// ConnectionError represents a transport-level failure (refused, timed
// out, host unreachable). Surfaced to the controller, never retried
// automatically.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("debugger %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a transport-level failure.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// Info is a point-in-time view of the connection.
type Info struct {
	Host          string
	Port          int
	State         State
	BytesReceived int64
	LastActivity  time.Time
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	// Decoder tunes the frame decoder bounds.
	Decoder frame.Config
	// ReadBufferSize is the socket read chunk size.
	ReadBufferSize int
	// Logger is the injected log sink. Nil disables logging.
	Logger *log.Logger
	// Collector records session metrics. Nil disables metrics.
	Collector *metrics.Collector
}

// Client attaches to the engine's debug port and feeds decoded records
// into an output aggregator.
type Client struct {
	cfg       Config
	out       *aggregate.Buffer
	logger    *log.Logger
	collector *metrics.Collector

	mu           sync.Mutex
	state        State
	conn         net.Conn
	host         string
	port         int
	bytes        int64
	lastActivity time.Time
	readerDone   chan struct{}
}

// NewClient creates a client appending decoded records to out.
func NewClient(out *aggregate.Buffer, cfg Config) *Client {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		cfg:       cfg,
		out:       out,
		logger:    logger,
		collector: cfg.Collector,
	}
}

// Connect dials the debug port and starts the reader goroutine.
// Returns *ConnectionError on refused/timed-out/unreachable dials and
// when a connection already exists.
func (c *Client) Connect(ctx context.Context, host string, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return &ConnectionError{Endpoint: endpoint, Err: ErrAlreadyConnected}
	}
	c.state = StateConnecting
	c.host = host
	c.port = port
	c.bytes = 0
	c.mu.Unlock()

	c.collector.IncConnectAttempted()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.collector.IncConnectFailed()
		c.logger.Error("debugger connect failed", map[string]any{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return &ConnectionError{Endpoint: endpoint, Err: err}
	}

	decoder := frame.NewDecoder(c.cfg.Decoder)
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.lastActivity = time.Now()
	c.readerDone = done
	c.mu.Unlock()

	c.logger.Info("debugger connected", map[string]any{
		"endpoint": endpoint,
	})

	go c.readLoop(conn, decoder, done)
	return nil
}

// readLoop is the sole socket consumer and the sole decoder writer.
// It runs until transport close or error, then flushes the decoder,
// emits the terminal end-of-stream record, and settles the state.
func (c *Client) readLoop(conn net.Conn, decoder *frame.Decoder, done chan struct{}) {
	defer close(done)

	buf := make([]byte, c.cfg.ReadBufferSize)
	var readErr error
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.bytes += int64(n)
			c.lastActivity = time.Now()
			c.mu.Unlock()
			c.collector.AddBytesReceived(int64(n))

			records := decoder.Feed(buf[:n])
			for _, rec := range records {
				c.out.Append(rec)
			}
			c.collector.AddRecordsDecoded(int64(len(records)))
		}
		if err != nil {
			readErr = err
			break
		}
	}

	c.mu.Lock()
	wasClosing := c.state == StateClosing
	c.state = StateClosing
	endOffset := c.bytes
	c.mu.Unlock()

	// Drain whatever the heuristics were still holding, then mark the
	// end of stream so pollers observe it deterministically.
	tail := decoder.Flush()
	for _, rec := range tail {
		c.out.Append(rec)
	}
	c.out.Append(types.NewRecord(types.RecordKindUnknown, types.ConnectionEndedText, endOffset))
	c.collector.AddRecordsDecoded(int64(len(tail)) + 1)

	stats := decoder.Stats()
	c.collector.AbsorbDecoderStats(stats.FramesDecoded, stats.FallbackRecords, stats.BytesDropped, stats.OverflowTrims)
	c.collector.SetRecordsEvicted(c.out.Evicted())
	c.collector.IncDisconnect()

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	fields := map[string]any{
		"bytes":    endOffset,
		"buffered": decoder.Buffered(),
	}
	if readErr != nil && !wasClosing {
		fields["error"] = readErr.Error()
	}
	c.logger.Info("debugger connection ended", fields)
}

// Disconnect closes the transport and waits for the reader to settle.
// Idempotent: disconnecting an already-disconnected client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.conn != nil {
		// Closing the socket wakes the blocked reader.
		c.state = StateClosing
		_ = c.conn.Close()
	}
	done := c.readerDone
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// Info returns a snapshot of the connection state and counters.
func (c *Client) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Host:          c.host,
		Port:          c.port,
		State:         c.state,
		BytesReceived: c.bytes,
		LastActivity:  c.lastActivity,
	}
}
