// Package session provides the controller-facing surface of the
// bridge.
//
// A Session is an explicit context object owned by the controller, with
// no hidden process-wide state, so multiple concurrent debug sessions
// are representable. It bundles the two independent duplex channels
// (debug socket path, child stdio path); they share no mutable state
// and need no cross-channel locking.
package session

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/gantry/adapter"
	"github.com/justapithecus/gantry/aggregate"
	"github.com/justapithecus/gantry/command"
	"github.com/justapithecus/gantry/debugger"
	"github.com/justapithecus/gantry/frame"
	"github.com/justapithecus/gantry/log"
	"github.com/justapithecus/gantry/metrics"
	"github.com/justapithecus/gantry/types"
)

// publishTimeout bounds adapter fanout on disconnect.
const publishTimeout = 10 * time.Second

// Config configures a Session.
type Config struct {
	// OutputCapacity is the aggregator record capacity.
	OutputCapacity int
	// Decoder tunes the frame decoder bounds.
	Decoder frame.Config
	// DialTimeout bounds ConnectDebugger dials.
	DialTimeout time.Duration
	// CommandTimeout is the default SendCommand deadline.
	CommandTimeout time.Duration
	// Output receives forwarded non-marker child output lines.
	Output command.OutputFunc
	// Adapter, when set, receives a session-closed event on disconnect.
	Adapter adapter.Adapter
	// Logger is the injected log sink. Nil constructs a session logger
	// writing to stderr.
	Logger *log.Logger
}

// Session owns one telemetry connection and one command channel.
type Session struct {
	id        string
	cfg       Config
	logger    *log.Logger
	collector *metrics.Collector

	out    *aggregate.Buffer
	client *debugger.Client
	mux    *command.Mux

	connectedAt time.Time
}

// New creates a session with a fresh id, aggregator, and debug client.
// The command channel is attached separately once a child exists.
func New(cfg Config) *Session {
	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(id)
	}
	collector := metrics.NewCollector(id, "")

	out := aggregate.New(cfg.OutputCapacity)
	client := debugger.NewClient(out, debugger.Config{
		Decoder:   cfg.Decoder,
		Logger:    logger,
		Collector: collector,
	})

	return &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		out:       out,
		client:    client,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ConnectDebugger attaches to the engine's debug port.
func (s *Session) ConnectDebugger(ctx context.Context, host string, port int) error {
	if err := s.client.Connect(ctx, host, port, s.cfg.DialTimeout); err != nil {
		return err
	}
	s.connectedAt = time.Now()
	return nil
}

// DebugOutput returns, in order, all records with sequence number
// greater than sinceSeq. Repeatable: the controller tracks its own
// cursor and calls this from its poll loop.
func (s *Session) DebugOutput(sinceSeq int64) []types.Record {
	return s.out.DrainSince(sinceSeq)
}

// DisconnectDebugger closes the debug connection, publishes the
// session-closed event, and clears the aggregator so a later reconnect
// does not mix stale and fresh output.
func (s *Session) DisconnectDebugger() error {
	if err := s.client.Disconnect(); err != nil {
		return err
	}
	// Info is final once the reader has settled.
	s.publishClosed(s.client.Info())
	s.connectedAt = time.Time{}
	s.out.Clear()
	return nil
}

// publishClosed sends the fanout event, best effort. Publish failures
// are logged and counted, never surfaced: fanout must not make
// disconnects fail.
func (s *Session) publishClosed(info debugger.Info) {
	if s.cfg.Adapter == nil || s.connectedAt.IsZero() {
		return
	}

	counts := s.out.KindCounts()
	var total int64
	for _, v := range counts {
		total += v
	}
	event := &adapter.SessionClosedEvent{
		EventType:     adapter.EventTypeSessionClosed,
		SessionID:     s.id,
		Endpoint:      info.Host,
		BytesReceived: info.BytesReceived,
		Records:       total,
		Errors:        counts[types.RecordKindError],
		Warnings:      counts[types.RecordKindWarning],
		DurationMs:    time.Since(s.connectedAt).Milliseconds(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.cfg.Adapter.Publish(ctx, event); err != nil {
		s.collector.IncPublishFailure()
		s.logger.Warn("session event publish failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	s.collector.IncPublishSuccess()
}

// AttachChild wires the command multiplexer onto a child process's
// standard streams. The caller owns the process lifecycle; the session
// owns only the bytes. Attaching replaces any previous channel.
func (s *Session) AttachChild(stdin io.Writer, stdout io.Reader) {
	if s.mux != nil {
		_ = s.mux.Close()
	}
	s.mux = command.New(stdin, stdout, command.Config{
		Output:    s.cfg.Output,
		Logger:    s.logger,
		Collector: s.collector,
	})
}

// SendCommand issues a command over the attached child channel.
// Returns ErrChildExited when no child is attached.
func (s *Session) SendCommand(ctx context.Context, action string, params map[string]any, timeout time.Duration) (*types.ResponseEnvelope, error) {
	if s.mux == nil {
		return nil, command.ErrChildExited
	}
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	return s.mux.Send(ctx, action, params, timeout)
}

// DebuggerInfo returns the debug connection snapshot.
func (s *Session) DebuggerInfo() debugger.Info {
	return s.client.Info()
}

// Metrics returns a snapshot of the session's counters.
func (s *Session) Metrics() metrics.Snapshot {
	return s.collector.Snapshot()
}

// Close tears down both channels and the adapter. All blocked readers
// are woken and all pending command waiters resolved; nothing leaks.
func (s *Session) Close() error {
	err := s.DisconnectDebugger()
	if s.mux != nil {
		_ = s.mux.Close()
	}
	if s.cfg.Adapter != nil {
		_ = s.cfg.Adapter.Close()
	}
	return err
}
