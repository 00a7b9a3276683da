//go:build unix

package ws

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/history"
)

func fakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// collectRun reads frames until the done frame, returning the joined
// stdout data and the exit code.
func collectRun(t *testing.T, conn *websocket.Conn) (string, int) {
	t.Helper()
	var out strings.Builder
	for i := 0; i < 200; i++ {
		e := readFrame(t, conn)
		switch e.Type {
		case TypeOutput:
			if e.Stream == "stdout" {
				out.WriteString(e.Data)
			}
		case TypeDone:
			if e.ExitCode == nil {
				t.Fatal("done frame has no exit_code")
			}
			return out.String(), *e.ExitCode
		case TypeError:
			t.Fatalf("unexpected error frame: %s %s", e.Code, e.Message)
		}
	}
	t.Fatal("no done frame received")
	return "", 0
}

func TestPromptStreamsOutput(t *testing.T) {
	bin := fakeAgent(t, "cat -")
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = bin
	})
	conn := dialWS(t, stack.srv, testToken, "dev-run", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "hello agent"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}

	out, code := collectRun(t, conn)
	if !strings.Contains(out, "hello agent") {
		t.Errorf("output = %q, want it to contain %q", out, "hello agent")
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	conv, err := stack.hist.Get(context.Background(), "dev-run")
	if err != nil {
		t.Fatalf("history Get() error = %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(conv.Messages))
	}
	if conv.Messages[0].Role != history.RoleUser || conv.Messages[0].Content != "hello agent" {
		t.Errorf("first message = %s %q, want user prompt", conv.Messages[0].Role, conv.Messages[0].Content)
	}
	if conv.Messages[1].Role != history.RoleAgent {
		t.Errorf("second message role = %s, want %s", conv.Messages[1].Role, history.RoleAgent)
	}
}

func TestPromptReportsExitCode(t *testing.T) {
	bin := fakeAgent(t, "exit 3")
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = bin
	})
	conn := dialWS(t, stack.srv, testToken, "dev-exit", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "fail please"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	_, code := collectRun(t, conn)
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestPromptWhileBusy(t *testing.T) {
	bin := fakeAgent(t, "sleep 2")
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = bin
	})
	conn := dialWS(t, stack.srv, testToken, "dev-busy", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "first"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	awaitFrame(t, conn, TypeState) // running

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "second"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	frame := awaitFrame(t, conn, TypeError)
	if frame.Code != CodeAgentBusy {
		t.Errorf("error code = %q, want %q", frame.Code, CodeAgentBusy)
	}
}

func TestInterruptStopsRun(t *testing.T) {
	bin := fakeAgent(t, `trap 'exit 0' TERM
echo started
sleep 30 &
wait $!`)
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = bin
	})
	conn := dialWS(t, stack.srv, testToken, "dev-intr", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "long task"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	awaitFrame(t, conn, TypeOutput) // agent is up

	start := time.Now()
	if err := conn.WriteJSON(Envelope{Type: TypeInterrupt}); err != nil {
		t.Fatalf("WriteJSON(interrupt) error = %v", err)
	}
	awaitFrame(t, conn, TypeDone)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("interrupt took %v, want well under the sleep duration", elapsed)
	}
}

func TestReplayAfterReconnect(t *testing.T) {
	bin := fakeAgent(t, `printf 'line-one\nline-two\n'`)
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = bin
	})

	conn := dialWS(t, stack.srv, testToken, "dev-replay", "Phone")
	awaitFrame(t, conn, TypeReady)
	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "emit"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	collectRun(t, conn)
	_ = conn.Close()

	// Reconnect with the same device identity and ask for everything.
	conn2 := dialWS(t, stack.srv, testToken, "dev-replay", "Phone")
	awaitFrame(t, conn2, TypeReady)
	if err := conn2.WriteJSON(Envelope{Type: TypeReplay, AfterSeq: 0}); err != nil {
		t.Fatalf("WriteJSON(replay) error = %v", err)
	}
	if err := conn2.WriteJSON(Envelope{Type: TypePing, ID: "end"}); err != nil {
		t.Fatalf("WriteJSON(ping) error = %v", err)
	}

	var out strings.Builder
	var lastSeq uint64
	for {
		e := readFrame(t, conn2)
		if e.Type == TypePong {
			break
		}
		if e.Type != TypeOutput {
			continue
		}
		if e.Seq <= lastSeq {
			t.Errorf("replayed seq %d not increasing (last %d)", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		out.WriteString(e.Data)
	}
	if !strings.Contains(out.String(), "line-one") || !strings.Contains(out.String(), "line-two") {
		t.Errorf("replayed output = %q, want both lines", out.String())
	}
}

func TestAgentStartFailure(t *testing.T) {
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = "/nonexistent/agent-binary"
	})
	conn := dialWS(t, stack.srv, testToken, "dev-fail", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "anything"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	frame := awaitFrame(t, conn, TypeError)
	if frame.Code != CodeAgentFailed {
		t.Errorf("error code = %q, want %q", frame.Code, CodeAgentFailed)
	}
}

func TestHistoryPushedOnReconnect(t *testing.T) {
	bin := fakeAgent(t, "cat -")
	stack := newTestStack(t, func(c *config.Config) {
		c.AgentBin = bin
	})

	conn := dialWS(t, stack.srv, testToken, "dev-hist", "Phone")
	awaitFrame(t, conn, TypeReady)
	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "remember me"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	collectRun(t, conn)
	_ = conn.Close()

	conn2 := dialWS(t, stack.srv, testToken, "dev-hist", "Phone")
	frame := awaitFrame(t, conn2, TypeHistory)
	if len(frame.Messages) == 0 {
		t.Fatal("history frame carries no messages")
	}
	found := false
	for _, m := range frame.Messages {
		if m.Role == history.RoleUser && m.Content == "remember me" {
			found = true
		}
	}
	if !found {
		t.Errorf("history frame missing the recorded prompt: %+v", frame.Messages)
	}
}
