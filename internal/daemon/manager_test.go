package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/tlsutil"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve listen addr: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

func testServerConfig(addr string) ServerConfig {
	cfg := DefaultServerConfig(addr)
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestNewManagerValidDeps(t *testing.T) {
	deps := Deps{
		Logger:  log.WithComponent("test"),
		Handler: http.NotFoundHandler(),
	}

	mgr, err := NewManager(testServerConfig("127.0.0.1:0"), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if mgr == nil {
		t.Fatal("NewManager() returned nil manager")
	}
}

func TestNewManagerMissingLogger(t *testing.T) {
	deps := Deps{
		Logger:  zerolog.Nop(),
		Handler: http.NotFoundHandler(),
	}

	_, err := NewManager(testServerConfig("127.0.0.1:0"), deps)
	if err == nil {
		t.Fatal("NewManager() expected error for missing logger, got nil")
	}
	if !strings.Contains(err.Error(), "logger is required") {
		t.Errorf("NewManager() error = %v, want error containing 'logger is required'", err)
	}
}

func TestNewManagerMissingHandler(t *testing.T) {
	deps := Deps{
		Logger: log.WithComponent("test"),
	}

	_, err := NewManager(testServerConfig("127.0.0.1:0"), deps)
	if err == nil {
		t.Fatal("NewManager() expected error for missing handler, got nil")
	}
	if !strings.Contains(err.Error(), "http handler is required") {
		t.Errorf("NewManager() error = %v, want error containing 'http handler is required'", err)
	}
}

func TestManagerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	state := NewState()
	deps := Deps{
		Logger: log.WithComponent("test"),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		State: state,
	}

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(addr), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}
	if got := state.Get(); got != StateRunning {
		t.Errorf("state after start = %q, want %q", got, StateRunning)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	if got := state.Get(); got != StateStopping {
		t.Errorf("state after stop = %q, want %q", got, StateStopping)
	}
}

func TestManagerServesTLS(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	if err := tlsutil.GenerateSelfSigned(certPath, keyPath, 1, nil, nil); err != nil {
		t.Fatalf("generating certificates: %v", err)
	}
	tlsCfg, err := tlsutil.ServerConfig(certPath, keyPath, "")
	if err != nil {
		t.Fatalf("building tls config: %v", err)
	}

	deps := Deps{
		Logger: log.WithComponent("test"),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("secure"))
		}),
		TLSConfig: tlsCfg,
	}

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(addr), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- self-signed test cert
		},
	}
	resp, err := client.Get("https://" + addr)
	if err != nil {
		t.Fatalf("https request failed: %v", err)
	}
	_ = resp.Body.Close()
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManagerShutdownNotStarted(t *testing.T) {
	deps := Deps{
		Logger:  log.WithComponent("test"),
		Handler: http.NotFoundHandler(),
	}

	mgr, err := NewManager(testServerConfig("127.0.0.1:0"), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	err = mgr.Shutdown(context.Background())
	if !errors.Is(err, ErrManagerNotStarted) {
		t.Errorf("Shutdown() error = %v, want %v", err, ErrManagerNotStarted)
	}
}

func TestManagerWithMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	metricsAddr := reserveListenAddr(t)
	deps := Deps{
		Logger: log.WithComponent("test"),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# HELP test_metric\n"))
		}),
		MetricsAddr: metricsAddr,
	}

	mgr, err := NewManager(testServerConfig(reserveListenAddr(t)), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(metricsAddr, 2*time.Second); err != nil {
		t.Fatalf("metrics server did not start listening: %v", err)
	}

	resp, err := http.Get("http://" + metricsAddr)
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	_ = resp.Body.Close()

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManagerRunsHooksInReverseOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	deps := Deps{
		Logger:  log.WithComponent("test"),
		Handler: http.NotFoundHandler(),
	}

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(addr), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var order []string
	mgr.RegisterShutdownHook("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	mgr.RegisterShutdownHook("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})
	mgr.RegisterShutdownHook("third", func(context.Context) error {
		order = append(order, "third")
		return errors.New("cleanup failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}
	cancel()

	select {
	case err := <-errChan:
		if err == nil || !strings.Contains(err.Error(), "hook third") {
			t.Errorf("Start() error = %v, want hook failure surfaced", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("hook order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
}

func TestManagerPropagatesListenErrors(t *testing.T) {
	testServer := httptest.NewServer(http.NotFoundHandler())
	defer testServer.Close()

	deps := Deps{
		Logger:  log.WithComponent("test"),
		Handler: http.NotFoundHandler(),
	}

	// Bind to the already-bound port.
	mgr, err := NewManager(testServerConfig(testServer.Listener.Addr().String()), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.Start(ctx); err == nil {
		t.Error("Start() expected error for port conflict, got nil")
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	deps := Deps{
		Logger:  log.WithComponent("test"),
		Handler: http.NotFoundHandler(),
	}

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(addr), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestAppRunRequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	if err := app.Run(context.Background()); !errors.Is(err, ErrMissingManager) {
		t.Errorf("Run() error = %v, want %v", err, ErrMissingManager)
	}
}

func TestStateDefaultsToStarting(t *testing.T) {
	s := NewState()
	if got := s.Get(); got != StateStarting {
		t.Errorf("Get() = %q, want %q", got, StateStarting)
	}
	s.Set(StateRunning)
	if got := s.Get(); got != StateRunning {
		t.Errorf("Get() = %q, want %q", got, StateRunning)
	}
}

func TestStateConcurrentAccess(t *testing.T) {
	s := NewState()
	var done atomic.Bool
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for !done.Load() {
			s.Set(StateRunning)
		}
	}()
	for i := 0; i < 1000; i++ {
		_ = s.Get()
	}
	done.Store(true)
	<-finished
}
