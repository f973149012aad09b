// Package command implements the marker-line command/response channel
// over a child process's standard streams per PROTOCOL.md.
//
// Commands are single lines of the form MCP_COMMAND:<JSON> written to
// the child's stdin. The child's stdout interleaves ordinary program
// output with response lines of the form MCP_RESPONSE:<JSON>; a
// dedicated reader goroutine tokenizes the stream line by line and
// routes marker lines to waiters while forwarding everything else to
// an injected output sink.
//
// The observed wire format does not echo correlation ids in responses,
// so matching is by action type with at most one in-flight request per
// action. This is a documented protocol weakness, not something the
// mux papers over: a response of an unexpected type is forwarded as
// unsolicited output rather than mis-delivered, and a response arriving
// after its request timed out is discarded with a logged mismatch.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/gantry/log"
	"github.com/justapithecus/gantry/metrics"
	"github.com/justapithecus/gantry/types"
)

// Marker tokens per PROTOCOL.md. These are the in-engine dispatcher's
// contract and cannot be renamed here.
const (
	CommandMarker  = "MCP_COMMAND:"
	ResponseMarker = "MCP_RESPONSE:"
)

// DefaultTimeout bounds Send when the caller passes no timeout.
const DefaultTimeout = 10 * time.Second

// maxLineSize bounds response line length; the largest expected payload
// is a base64 screenshot of a full viewport.
const maxLineSize = 32 << 20

// ErrChildExited is returned when the child's output stream closed
// while the request was pending.
var ErrChildExited = errors.New("child process exited")

// ErrActionPending is returned when a request is issued for an action
// that already has an unresolved request. Matching is by action type,
// so a second in-flight request per action is a programming error.
var ErrActionPending = errors.New("request already pending for action")

// TimeoutError reports that no matching response arrived in time.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Action, e.Timeout)
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// OutputFunc receives non-marker child output lines. Implementations
// must not block; the reader goroutine calls them inline.
type OutputFunc func(line string)

// Config configures a Mux.
type Config struct {
	// Output receives forwarded non-marker lines. Nil discards them.
	Output OutputFunc
	// Logger is the injected log sink. Nil disables logging.
	Logger *log.Logger
	// Collector records session metrics. Nil disables metrics.
	Collector *metrics.Collector
}

// pendingRequest is the single result slot for one in-flight action.
// Resolved at most once: success, timeout, or child exit.
type pendingRequest struct {
	id     string
	action string
	result chan *types.ResponseEnvelope
}

// Mux multiplexes typed commands over a child's standard streams.
type Mux struct {
	stdin     io.Writer
	output    OutputFunc
	logger    *log.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	pending map[string]*pendingRequest // keyed by action
	closed  bool

	done chan struct{}
}

// New creates a mux over the child's stdin/stdout and starts the
// reader goroutine. The caller retains ownership of the process
// lifecycle; the mux owns only the bytes.
func New(stdin io.Writer, stdout io.Reader, cfg Config) *Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	m := &Mux{
		stdin:     stdin,
		output:    cfg.Output,
		logger:    logger,
		collector: cfg.Collector,
		pending:   make(map[string]*pendingRequest),
		done:      make(chan struct{}),
	}
	go m.readLoop(stdout)
	return m
}

// Send writes a command envelope and blocks until the matching
// response, the timeout, context cancellation, or child exit. It never
// blocks on unrelated traffic.
//
// Errors:
//   - *TimeoutError: no matching response within the deadline
//   - ErrChildExited: output stream closed while pending
//   - ErrActionPending: an earlier request for action is unresolved
func (m *Mux) Send(ctx context.Context, action string, params map[string]any, timeout time.Duration) (*types.ResponseEnvelope, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	req := &pendingRequest{
		id:     uuid.NewString(),
		action: action,
		result: make(chan *types.ResponseEnvelope, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrChildExited
	}
	if _, exists := m.pending[action]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrActionPending, action)
	}
	m.pending[action] = req
	m.mu.Unlock()

	if err := m.writeCommand(action, params, req.id); err != nil {
		m.resolve(action, req)
		return nil, fmt.Errorf("write command: %w", err)
	}
	m.collector.IncCommandSent()

	// time.Timer uses the monotonic clock; wall-clock adjustments do
	// not shorten or stretch request deadlines.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-req.result:
		if resp == nil {
			return nil, ErrChildExited
		}
		return resp, nil
	case <-timer.C:
		m.resolve(action, req)
		m.collector.IncCommandTimeout()
		m.logger.Warn("command timed out", map[string]any{
			"action":  action,
			"id":      req.id,
			"timeout": timeout.String(),
		})
		return nil, &TimeoutError{Action: action, Timeout: timeout}
	case <-ctx.Done():
		m.resolve(action, req)
		return nil, ctx.Err()
	}
}

// writeCommand serializes and writes one marker line.
func (m *Mux) writeCommand(action string, params map[string]any, id string) error {
	envelope := types.CommandEnvelope{
		Action: action,
		Params: params,
		ID:     id,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	line := CommandMarker + string(body) + "\n"
	if _, err := io.WriteString(m.stdin, line); err != nil {
		return err
	}
	m.logger.Debug("command written", map[string]any{
		"action": action,
		"id":     id,
	})
	return nil
}

// resolve removes req from the pending table if it still owns its
// action slot. A request replaced or already delivered is left alone.
func (m *Mux) resolve(action string, req *pendingRequest) {
	m.mu.Lock()
	if m.pending[action] == req {
		delete(m.pending, action)
	}
	m.mu.Unlock()
}

// readLoop tokenizes child stdout line by line until EOF, routing
// marker lines to waiters and forwarding the rest.
func (m *Mux) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, ResponseMarker)
		if !ok {
			if m.output != nil {
				m.output(line)
			}
			continue
		}
		m.dispatch(rest, line)
	}

	if err := scanner.Err(); err != nil {
		m.logger.Debug("child stdout read ended", map[string]any{
			"error": err.Error(),
		})
	}
	m.shutdown()
}

// dispatch parses one response line and delivers it to its waiter.
// Responses with no pending waiter of the same type are a protocol
// mismatch: logged and forwarded, never delivered to the wrong waiter.
func (m *Mux) dispatch(body, line string) {
	resp, err := types.ParseResponseEnvelope([]byte(body))
	if err != nil {
		m.collector.IncProtocolMismatch()
		m.logger.Warn("malformed response line", map[string]any{
			"error": err.Error(),
		})
		if m.output != nil {
			m.output(line)
		}
		return
	}

	m.mu.Lock()
	req, ok := m.pending[resp.Type]
	var errReq *pendingRequest
	if !ok && resp.Type == types.ResponseTypeError && len(m.pending) == 1 {
		// Dispatcher-side failures are typed "error" rather than
		// echoing the action; with exactly one request in flight the
		// attribution is unambiguous.
		for _, r := range m.pending {
			errReq = r
		}
		req, ok = errReq, true
	}
	if ok {
		delete(m.pending, req.action)
	}
	m.mu.Unlock()

	if !ok {
		m.collector.IncProtocolMismatch()
		m.logger.Warn("response with no pending request", map[string]any{
			"type": resp.Type,
		})
		if m.output != nil {
			m.output(line)
		}
		return
	}

	m.collector.IncResponseMatched()
	req.result <- resp
}

// shutdown resolves every pending request as child-exited. Waiters are
// never leaked: a nil result delivery wakes them with ErrChildExited.
func (m *Mux) shutdown() {
	m.mu.Lock()
	wasClosed := m.closed
	m.closed = true
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.mu.Unlock()

	if len(pending) > 0 {
		m.collector.IncChildExit()
	}
	for _, req := range pending {
		m.logger.Warn("request abandoned by child exit", map[string]any{
			"action": req.action,
			"id":     req.id,
		})
		req.result <- nil
	}
	if !wasClosed {
		close(m.done)
	}
}

// Done is closed when the child's output stream has ended and all
// pending requests are resolved.
func (m *Mux) Done() <-chan struct{} { return m.done }

// Close marks the mux closed and resolves all pending requests.
// It does not close the child's streams; the process owner does that,
// which in turn ends the reader. Safe to call more than once.
func (m *Mux) Close() error {
	m.shutdown()
	return nil
}
