package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/history"
	"github.com/darkcode/darkcode-server/internal/replay"
	"github.com/darkcode/darkcode-server/internal/security"
	"github.com/darkcode/darkcode-server/internal/session"
)

const testToken = "tok-secret-1234"

type testStack struct {
	srv     *httptest.Server
	handler *Handler
	holder  *config.Holder
	guests  *security.GuestManager
	hist    *history.Store
	spool   *replay.Spool
}

func newTestStack(t *testing.T, mutate func(*config.Config)) *testStack {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Config{
		ServerName:       "test-server",
		Token:            testToken,
		ConfigDir:        dir,
		WorkingDir:       dir,
		MaxSessionsPerIP: 8,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	holder := config.NewHolder(cfg, nil, filepath.Join(dir, "config.yaml"))

	guests, err := security.NewGuestManager(filepath.Join(dir, "guests.db"))
	if err != nil {
		t.Fatalf("NewGuestManager() error = %v", err)
	}
	limiter, err := security.NewLimiter(filepath.Join(dir, "security.db"), security.LimiterConfig{
		PerIdentifierRPS:   1000,
		PerIdentifierBurst: 1000,
		MaxFailures:        100,
		FailureWindow:      time.Minute,
		CleanupInterval:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	hist, err := history.New(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("history.New() error = %v", err)
	}
	spool, err := replay.Open(filepath.Join(dir, "spool"), time.Minute)
	if err != nil {
		t.Fatalf("replay.Open() error = %v", err)
	}

	handler := NewHandler(Deps{
		Holder:      holder,
		Hub:         session.NewHub(cfg.MaxSessionsPerIP),
		Guests:      guests,
		Limiter:     limiter,
		Runner:      agent.NewRunner(cfg.AgentBin, cfg.WorkingDir),
		History:     hist,
		Spool:       spool,
		ServerState: func() string { return "running" },
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = guests.Close()
		_ = limiter.Close()
		_ = hist.Close()
		_ = spool.Close()
	})

	return &testStack{
		srv:     srv,
		handler: handler,
		holder:  holder,
		guests:  guests,
		hist:    hist,
		spool:   spool,
	}
}

// dialWS connects, sends the hello frame, and returns the connection.
func dialWS(t *testing.T, srv *httptest.Server, token, deviceID, deviceName string) *websocket.Conn {
	t.Helper()
	conn, resp, err := rawDial(srv, token, deviceID)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })

	hello := Envelope{Type: TypeHello, DeviceID: deviceID, DeviceName: deviceName, Version: "1.0.0"}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("WriteJSON(hello) error = %v", err)
	}
	return conn
}

func rawDial(srv *httptest.Server, token, deviceID string) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		u += "/?token=" + url.QueryEscape(token)
	}
	hdr := http.Header{}
	if deviceID != "" {
		hdr.Set("X-Device-ID", deviceID)
	}
	return websocket.DefaultDialer.Dial(u, hdr)
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e Envelope
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return e
}

// awaitFrame reads frames until one of the wanted type arrives,
// skipping interleaved state or history frames.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) Envelope {
	t.Helper()
	for i := 0; i < 50; i++ {
		e := readFrame(t, conn)
		if e.Type == frameType {
			return e
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return Envelope{}
}

func TestHandshakeReady(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := dialWS(t, stack.srv, testToken, "dev-1", "Test Phone")

	ready := awaitFrame(t, conn, TypeReady)
	if ready.SessionID == "" {
		t.Fatal("ready frame has empty session_id")
	}
	if ready.ServerName != "test-server" {
		t.Errorf("ready.ServerName = %q, want %q", ready.ServerName, "test-server")
	}
	if ready.Permission != config.PermissionFull {
		t.Errorf("ready.Permission = %q, want %q", ready.Permission, config.PermissionFull)
	}

	state := awaitFrame(t, conn, TypeState)
	if state.State != "running" {
		t.Errorf("state.State = %q, want %q", state.State, "running")
	}
}

func TestRejectsWrongToken(t *testing.T) {
	stack := newTestStack(t, nil)

	conn, resp, err := rawDial(stack.srv, "wrong-token", "dev-1")
	if err == nil {
		conn.Close()
		t.Fatal("Dial() with wrong token succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want %d", resp, http.StatusUnauthorized)
	}
}

func TestRejectsMissingToken(t *testing.T) {
	stack := newTestStack(t, nil)

	conn, resp, err := rawDial(stack.srv, "", "dev-1")
	if err == nil {
		conn.Close()
		t.Fatal("Dial() without token succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want %d", resp, http.StatusUnauthorized)
	}
}

func TestGuestHandshake(t *testing.T) {
	stack := newTestStack(t, nil)

	gc, err := stack.guests.CreateCode(context.Background(), "Reviewer", config.PermissionReadOnly, 0, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	conn := dialWS(t, stack.srv, gc.Code, "guest-dev", "Guest Phone")
	ready := awaitFrame(t, conn, TypeReady)
	if ready.Permission != config.PermissionReadOnly {
		t.Errorf("ready.Permission = %q, want %q", ready.Permission, config.PermissionReadOnly)
	}
}

func TestGuestReadOnlyDenied(t *testing.T) {
	stack := newTestStack(t, nil)

	gc, err := stack.guests.CreateCode(context.Background(), "Reviewer", config.PermissionReadOnly, 0, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	conn := dialWS(t, stack.srv, gc.Code, "guest-dev", "Guest Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "rm -rf"}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	frame := awaitFrame(t, conn, TypeError)
	if frame.Code != CodePermissionDenied {
		t.Errorf("error code = %q, want %q", frame.Code, CodePermissionDenied)
	}

	if err := conn.WriteJSON(Envelope{Type: TypeInterrupt}); err != nil {
		t.Fatalf("WriteJSON(interrupt) error = %v", err)
	}
	frame = awaitFrame(t, conn, TypeError)
	if frame.Code != CodePermissionDenied {
		t.Errorf("error code = %q, want %q", frame.Code, CodePermissionDenied)
	}
}

func TestRejectsInvalidGuestCode(t *testing.T) {
	stack := newTestStack(t, nil)

	conn, resp, err := rawDial(stack.srv, "GUEST-NOSUCHCD", "dev-1")
	if err == nil {
		conn.Close()
		t.Fatal("Dial() with unknown guest code succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want %d", resp, http.StatusUnauthorized)
	}
}

func TestDeviceLockBindsFirstDevice(t *testing.T) {
	stack := newTestStack(t, func(c *config.Config) {
		c.DeviceLock = true
	})

	conn := dialWS(t, stack.srv, testToken, "phone-1", "First Phone")
	awaitFrame(t, conn, TypeReady)

	if got := stack.holder.Get().BoundDeviceID; got != "phone-1" {
		t.Errorf("BoundDeviceID = %q, want %q", got, "phone-1")
	}
}

func TestDeviceLockRejectsOtherDevice(t *testing.T) {
	stack := newTestStack(t, func(c *config.Config) {
		c.DeviceLock = true
		c.BoundDeviceID = "phone-1"
	})

	conn := dialWS(t, stack.srv, testToken, "phone-2", "Other Phone")
	frame := awaitFrame(t, conn, TypeError)
	if frame.Code != CodeDeviceLocked {
		t.Errorf("error code = %q, want %q", frame.Code, CodeDeviceLocked)
	}
}

func TestDeviceLockAllowsGuests(t *testing.T) {
	stack := newTestStack(t, func(c *config.Config) {
		c.DeviceLock = true
		c.BoundDeviceID = "phone-1"
	})

	gc, err := stack.guests.CreateCode(context.Background(), "Guest", config.PermissionReadOnly, 0, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	conn := dialWS(t, stack.srv, gc.Code, "guest-dev", "Guest Phone")
	ready := awaitFrame(t, conn, TypeReady)
	if ready.SessionID == "" {
		t.Fatal("guest connection rejected by device lock")
	}
}

func TestSessionLimit(t *testing.T) {
	stack := newTestStack(t, func(c *config.Config) {
		c.MaxSessionsPerIP = 1
	})

	first := dialWS(t, stack.srv, testToken, "dev-1", "Phone One")
	awaitFrame(t, first, TypeReady)

	second := dialWS(t, stack.srv, testToken, "dev-2", "Phone Two")
	frame := awaitFrame(t, second, TypeError)
	if frame.Code != CodeSessionLimit {
		t.Errorf("error code = %q, want %q", frame.Code, CodeSessionLimit)
	}
}

func TestPingPong(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := dialWS(t, stack.srv, testToken, "dev-1", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePing, ID: "ping-42"}); err != nil {
		t.Fatalf("WriteJSON(ping) error = %v", err)
	}
	pong := awaitFrame(t, conn, TypePong)
	if pong.ID != "ping-42" {
		t.Errorf("pong.ID = %q, want %q", pong.ID, "ping-42")
	}
}

func TestUnknownFrameType(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := dialWS(t, stack.srv, testToken, "dev-1", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: "bogus"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	frame := awaitFrame(t, conn, TypeError)
	if frame.Code != CodeBadRequest {
		t.Errorf("error code = %q, want %q", frame.Code, CodeBadRequest)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := dialWS(t, stack.srv, testToken, "dev-1", "Phone")
	awaitFrame(t, conn, TypeReady)

	if err := conn.WriteJSON(Envelope{Type: TypePrompt, Text: "   "}); err != nil {
		t.Fatalf("WriteJSON(prompt) error = %v", err)
	}
	frame := awaitFrame(t, conn, TypeError)
	if frame.Code != CodeBadRequest {
		t.Errorf("error code = %q, want %q", frame.Code, CodeBadRequest)
	}
}

func TestReplayEmptySpool(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := dialWS(t, stack.srv, testToken, "dev-1", "Phone")
	awaitFrame(t, conn, TypeReady)
	awaitFrame(t, conn, TypeState)

	if err := conn.WriteJSON(Envelope{Type: TypeReplay, AfterSeq: 0}); err != nil {
		t.Fatalf("WriteJSON(replay) error = %v", err)
	}
	// Nothing spooled: the next frame after a ping must be the pong,
	// not replayed output.
	if err := conn.WriteJSON(Envelope{Type: TypePing, ID: "after-replay"}); err != nil {
		t.Fatalf("WriteJSON(ping) error = %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != TypePong {
		t.Errorf("frame type = %q, want %q", frame.Type, TypePong)
	}
}

func TestBlockedIPRejectedBeforeUpgrade(t *testing.T) {
	stack := newTestStack(t, nil)

	if err := stack.handler.deps.Limiter.Block(context.Background(), "127.0.0.1", security.IdentifierIP, "test"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	conn, resp, err := rawDial(stack.srv, testToken, "dev-1")
	if err == nil {
		conn.Close()
		t.Fatal("Dial() from blocked IP succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %v, want %d", resp, http.StatusForbidden)
	}
}
