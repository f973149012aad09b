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
	"testing"
	"time"

	"github.com/justapithecus/gantry/metrics"
	"github.com/justapithecus/gantry/types"
)

// testChild couples a Mux to pipe-backed child streams. Commands the
// mux writes arrive on cmds; responder goroutines write child stdout
// lines through respond. Non-marker lines forwarded by the mux arrive
// on output.
type testChild struct {
	mux    *Mux
	cmds   chan types.CommandEnvelope
	output chan string

	stdout *io.PipeWriter
}

func newTestChild(t *testing.T, collector *metrics.Collector) *testChild {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	tc := &testChild{
		cmds:   make(chan types.CommandEnvelope, 8),
		output: make(chan string, 8),
		stdout: stdoutW,
	}
	tc.mux = New(stdinW, stdoutR, Config{
		Output:    func(line string) { tc.output <- line },
		Collector: collector,
	})

	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			body, ok := strings.CutPrefix(scanner.Text(), CommandMarker)
			if !ok {
				continue
			}
			var env types.CommandEnvelope
			if err := json.Unmarshal([]byte(body), &env); err != nil {
				continue
			}
			tc.cmds <- env
		}
	}()

	t.Cleanup(func() {
		_ = tc.mux.Close()
		_ = stdoutW.Close()
		_ = stdinW.Close()
		_ = stdinR.Close()
		_ = stdoutR.Close()
	})
	return tc
}

// respond writes one line to the child's stdout. Safe from responder
// goroutines.
func (tc *testChild) respond(line string) {
	_, _ = fmt.Fprintln(tc.stdout, line)
}

// nextCommand waits for the mux to write a command. Test goroutine only.
func (tc *testChild) nextCommand(t *testing.T) types.CommandEnvelope {
	t.Helper()
	select {
	case env := <-tc.cmds:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return types.CommandEnvelope{} // unreachable
	}
}

// nextOutput waits for a forwarded non-marker line. Test goroutine only.
func (tc *testChild) nextOutput(t *testing.T) string {
	t.Helper()
	select {
	case line := <-tc.output:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded output")
		return "" // unreachable
	}
}

func TestMux_ScreenshotRoundTrip(t *testing.T) {
	collector := metrics.NewCollector("test", "")
	tc := newTestChild(t, collector)

	go func() {
		env := <-tc.cmds
		if env.Action != types.ActionScreenshot {
			t.Errorf("child got action %q, want screenshot", env.Action)
		}
		if env.ID == "" {
			t.Error("command carried no correlation id")
		}
		if env.Params["format"] != "png" {
			t.Errorf("child got format %v, want png", env.Params["format"])
		}
		tc.respond(`MCP_RESPONSE:{"type":"screenshot","success":true,"data":"aGVsbG8=","width":640,"height":480}`)
	}()

	resp, err := tc.mux.Send(t.Context(), types.ActionScreenshot, map[string]any{"format": "png"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Type != types.ActionScreenshot || !resp.Success {
		t.Errorf("resp = %q success=%v", resp.Type, resp.Success)
	}
	if w, _ := resp.Int("width"); w != 640 {
		t.Errorf("width = %d, want 640", w)
	}
	if h, _ := resp.Int("height"); h != 480 {
		t.Errorf("height = %d, want 480", h)
	}
	if data, _ := resp.String("data"); data != "aGVsbG8=" {
		t.Errorf("data = %q", data)
	}

	snap := collector.Snapshot()
	if snap.CommandsSent != 1 {
		t.Errorf("CommandsSent = %d, want 1", snap.CommandsSent)
	}
	if snap.ResponsesMatched != 1 {
		t.Errorf("ResponsesMatched = %d, want 1", snap.ResponsesMatched)
	}
}

func TestMux_PlainOutputForwarded(t *testing.T) {
	tc := newTestChild(t, nil)

	go func() {
		<-tc.cmds
		tc.respond("loading level 1")
		tc.respond(`MCP_RESPONSE:{"type":"click","success":true}`)
	}()

	if _, err := tc.mux.Send(t.Context(), types.ActionClick, map[string]any{"x": 10, "y": 20}, 2*time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	if line := tc.nextOutput(t); line != "loading level 1" {
		t.Errorf("forwarded line = %q", line)
	}
}

func TestMux_TimeoutThenLateResponse(t *testing.T) {
	collector := metrics.NewCollector("test", "")
	tc := newTestChild(t, collector)

	// First request gets no answer.
	_, err := tc.mux.Send(t.Context(), types.ActionClick, nil, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) || timeoutErr.Action != types.ActionClick {
		t.Fatalf("timeout error = %v", err)
	}
	tc.nextCommand(t)

	// The late answer has no waiter: it must be forwarded, not held.
	late := `MCP_RESPONSE:{"type":"click","success":true,"n":1}`
	tc.respond(late)
	if line := tc.nextOutput(t); line != late {
		t.Errorf("late response forwarded as %q", line)
	}

	// A fresh request for the same action is unaffected.
	go func() {
		<-tc.cmds
		tc.respond(`MCP_RESPONSE:{"type":"click","success":true,"n":2}`)
	}()
	resp, err := tc.mux.Send(t.Context(), types.ActionClick, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if n, _ := resp.Int("n"); n != 2 {
		t.Errorf("second response n = %d, want 2", n)
	}

	snap := collector.Snapshot()
	if snap.CommandTimeouts != 1 {
		t.Errorf("CommandTimeouts = %d, want 1", snap.CommandTimeouts)
	}
	if snap.ProtocolMismatches != 1 {
		t.Errorf("ProtocolMismatches = %d, want 1", snap.ProtocolMismatches)
	}
}

func TestMux_ErrorResponseAttributed(t *testing.T) {
	tc := newTestChild(t, nil)

	go func() {
		<-tc.cmds
		tc.respond(`MCP_RESPONSE:{"type":"error","success":false,"message":"unknown action"}`)
	}()

	resp, err := tc.mux.Send(t.Context(), types.ActionClick, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.IsError() {
		t.Error("error response should report IsError")
	}
	if msg := resp.ErrorMessage(); msg != "unknown action" {
		t.Errorf("ErrorMessage = %q", msg)
	}
}

func TestMux_ActionPending(t *testing.T) {
	tc := newTestChild(t, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := tc.mux.Send(t.Context(), types.ActionScreenshot, nil, 5*time.Second)
		firstDone <- err
	}()
	tc.nextCommand(t)

	// Second request for the same action while the first is pending.
	_, err := tc.mux.Send(t.Context(), types.ActionScreenshot, nil, 2*time.Second)
	if !errors.Is(err, ErrActionPending) {
		t.Fatalf("expected ErrActionPending, got %v", err)
	}

	// A different action is fine concurrently.
	go func() {
		<-tc.cmds
		tc.respond(`MCP_RESPONSE:{"type":"click","success":true}`)
	}()
	if _, err := tc.mux.Send(t.Context(), types.ActionClick, nil, 2*time.Second); err != nil {
		t.Fatalf("concurrent click: %v", err)
	}

	tc.respond(`MCP_RESPONSE:{"type":"screenshot","success":true}`)
	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("first send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first send never resolved")
	}
}

func TestMux_ChildExitResolvesPending(t *testing.T) {
	collector := metrics.NewCollector("test", "")
	tc := newTestChild(t, collector)

	sendDone := make(chan error, 1)
	go func() {
		_, err := tc.mux.Send(t.Context(), types.ActionScreenshot, nil, 5*time.Second)
		sendDone <- err
	}()
	tc.nextCommand(t)

	// Closing stdout is the child exiting.
	_ = tc.stdout.Close()

	select {
	case err := <-sendDone:
		if !errors.Is(err, ErrChildExited) {
			t.Fatalf("expected ErrChildExited, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not resolved by child exit")
	}

	select {
	case <-tc.mux.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after child exit")
	}

	// Requests after exit fail fast.
	if _, err := tc.mux.Send(t.Context(), types.ActionClick, nil, time.Second); !errors.Is(err, ErrChildExited) {
		t.Fatalf("expected ErrChildExited after exit, got %v", err)
	}

	if snap := collector.Snapshot(); snap.ChildExits != 1 {
		t.Errorf("ChildExits = %d, want 1", snap.ChildExits)
	}
}

func TestMux_ContextCancel(t *testing.T) {
	tc := newTestChild(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	sendDone := make(chan error, 1)
	go func() {
		_, err := tc.mux.Send(ctx, types.ActionClick, nil, 5*time.Second)
		sendDone <- err
	}()
	tc.nextCommand(t)
	cancel()

	select {
	case err := <-sendDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send not unblocked by cancellation")
	}
}

func TestMux_MalformedResponseForwarded(t *testing.T) {
	tc := newTestChild(t, nil)

	go func() {
		<-tc.cmds
		tc.respond("MCP_RESPONSE:not json at all")
		tc.respond(`MCP_RESPONSE:{"type":"click","success":true}`)
	}()

	resp, err := tc.mux.Send(t.Context(), types.ActionClick, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Success {
		t.Error("valid response after malformed line should still match")
	}
	if line := tc.nextOutput(t); line != "MCP_RESPONSE:not json at all" {
		t.Errorf("malformed line forwarded as %q", line)
	}
}

func TestMux_CloseIdempotent(t *testing.T) {
	tc := newTestChild(t, nil)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tc.mux.Close()
		}()
	}
	wg.Wait()

	select {
	case <-tc.mux.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
}
