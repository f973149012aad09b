package debugger

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/justapithecus/gantry/aggregate"
	"github.com/justapithecus/gantry/metrics"
	"github.com/justapithecus/gantry/types"
)

func mkFrame(text string) []byte {
	out := make([]byte, 4+len(text))
	binary.LittleEndian.PutUint32(out, uint32(len(text)))
	copy(out[4:], text)
	return out
}

// startServer listens on a loopback port and runs script on the first
// accepted connection. Returns the port.
func startServer(t *testing.T, script func(conn net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		script(conn)
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// waitEnd polls the aggregator until the end-of-stream record shows up.
func waitEnd(t *testing.T, out *aggregate.Buffer) []types.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		records := out.DrainSince(0)
		if n := len(records); n > 0 && records[n-1].IsConnectionEnded() {
			return records
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("end-of-stream record never appeared; have %v", out.DrainSince(0))
	return nil // unreachable
}

// waitState polls until the client reaches the wanted state.
func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.Info().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.Info().State, want)
}

func TestClient_StreamDecode(t *testing.T) {
	var stream []byte
	stream = append(stream, mkFrame("hello engine")...)
	stream = append(stream, mkFrame("WARNING: low fps")...)

	port := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write(stream)
		_ = conn.Close()
	})

	out := aggregate.New(0)
	collector := metrics.NewCollector("test", "")
	c := NewClient(out, Config{Collector: collector})

	if err := c.Connect(t.Context(), "127.0.0.1", port, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}

	records := waitEnd(t, out)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d: %v", len(records), records)
	}
	if records[0].Kind != types.RecordKindLog || records[0].Text != "hello engine" {
		t.Errorf("record 0 = %q %q", records[0].Kind, records[0].Text)
	}
	if records[1].Kind != types.RecordKindWarning || records[1].Text != "WARNING: low fps" {
		t.Errorf("record 1 = %q %q", records[1].Kind, records[1].Text)
	}
	for i, r := range records {
		if r.Seq != int64(i+1) {
			t.Errorf("record %d: Seq = %d, want %d", i, r.Seq, i+1)
		}
	}

	waitState(t, c, StateDisconnected)
	info := c.Info()
	if info.BytesReceived != int64(len(stream)) {
		t.Errorf("BytesReceived = %d, want %d", info.BytesReceived, len(stream))
	}
	if info.Port != port {
		t.Errorf("Port = %d, want %d", info.Port, port)
	}

	snap := collector.Snapshot()
	if snap.ConnectsAttempted != 1 {
		t.Errorf("ConnectsAttempted = %d, want 1", snap.ConnectsAttempted)
	}
	if snap.Disconnects != 1 {
		t.Errorf("Disconnects = %d, want 1", snap.Disconnects)
	}
	if snap.FramesDecoded != 2 {
		t.Errorf("FramesDecoded = %d, want 2", snap.FramesDecoded)
	}
}

func TestClient_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	collector := metrics.NewCollector("test", "")
	c := NewClient(aggregate.New(0), Config{Collector: collector})

	err = c.Connect(t.Context(), "127.0.0.1", port, time.Second)
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !IsConnectionError(err) {
		t.Errorf("expected ConnectionError, got %T: %v", err, err)
	}
	if c.Info().State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.Info().State)
	}
	if snap := collector.Snapshot(); snap.ConnectsFailed != 1 {
		t.Errorf("ConnectsFailed = %d, want 1", snap.ConnectsFailed)
	}
}

func TestClient_AlreadyConnected(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	port := startServer(t, func(conn net.Conn) {
		<-block
		_ = conn.Close()
	})

	c := NewClient(aggregate.New(0), Config{})
	if err := c.Connect(t.Context(), "127.0.0.1", port, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := c.Connect(t.Context(), "127.0.0.1", port, time.Second)
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	if !IsConnectionError(err) {
		t.Errorf("second connect error should be a ConnectionError")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestClient_DisconnectMidStream(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	port := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write(mkFrame("partial session"))
		<-block
		_ = conn.Close()
	})

	out := aggregate.New(0)
	c := NewClient(out, Config{})
	if err := c.Connect(t.Context(), "127.0.0.1", port, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Wait until the frame arrived, then cut the connection ourselves.
	deadline := time.Now().Add(3 * time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	records := out.DrainSince(0)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %v", len(records), records)
	}
	if records[0].Text != "partial session" {
		t.Errorf("record 0 = %q", records[0].Text)
	}
	if !records[1].IsConnectionEnded() {
		t.Errorf("record 1 should be the end-of-stream marker, got %v", records[1])
	}
	if c.Info().State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.Info().State)
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	c := NewClient(aggregate.New(0), Config{})

	// Never connected.
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect unconnected: %v", err)
	}

	port := startServer(t, func(conn net.Conn) {
		_ = conn.Close()
	})
	if err := c.Connect(t.Context(), "127.0.0.1", port, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestClient_ReconnectAfterDisconnect(t *testing.T) {
	out := aggregate.New(0)
	c := NewClient(out, Config{})

	for _, text := range []string{"first connection", "second connection"} {
		port := startServer(t, func(conn net.Conn) {
			_, _ = conn.Write(mkFrame(text))
			_ = conn.Close()
		})
		if err := c.Connect(context.Background(), "127.0.0.1", port, time.Second); err != nil {
			t.Fatalf("connect %q: %v", text, err)
		}
		waitEnd(t, out)
		if err := c.Disconnect(); err != nil {
			t.Fatalf("disconnect %q: %v", text, err)
		}
		out.Clear()
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosing, "closing"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
