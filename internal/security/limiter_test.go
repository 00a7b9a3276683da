// SPDX-License-Identifier: MIT

package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, config LimiterConfig) *Limiter {
	t.Helper()
	l, err := NewLimiter(filepath.Join(t.TempDir(), "security.db"), config)
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAllowBurstThenLimited(t *testing.T) {
	config := DefaultLimiterConfig()
	config.PerIdentifierRPS = 0.001
	config.PerIdentifierBurst = 2
	l := newTestLimiter(t, config)

	for i := 0; i < 2; i++ {
		if !l.Allow("10.0.0.9", IdentifierIP) {
			t.Fatalf("Allow() attempt %d = false, want true within burst", i+1)
		}
	}
	if l.Allow("10.0.0.9", IdentifierIP) {
		t.Error("Allow() past burst = true, want false")
	}
	// A different identifier gets its own bucket.
	if !l.Allow("10.0.0.10", IdentifierIP) {
		t.Error("Allow() for fresh identifier = false, want true")
	}
}

func TestRecordFailureBlocksAtThreshold(t *testing.T) {
	config := DefaultLimiterConfig()
	config.MaxFailures = 3
	l := newTestLimiter(t, config)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		blocked, err := l.RecordFailure(ctx, "192.168.1.50", IdentifierIP)
		if err != nil {
			t.Fatalf("RecordFailure() %d error = %v", i, err)
		}
		if blocked {
			t.Fatalf("RecordFailure() %d blocked = true before threshold", i)
		}
	}

	blocked, err := l.RecordFailure(ctx, "192.168.1.50", IdentifierIP)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if !blocked {
		t.Fatal("RecordFailure() at threshold blocked = false, want true")
	}

	isBlocked, err := l.IsBlocked(ctx, "192.168.1.50")
	if err != nil {
		t.Fatalf("IsBlocked() error = %v", err)
	}
	if !isBlocked {
		t.Error("IsBlocked() = false after block, want true")
	}
}

func TestFailuresOutsideWindowIgnored(t *testing.T) {
	config := DefaultLimiterConfig()
	config.MaxFailures = 2
	config.FailureWindow = 10 * time.Minute
	l := newTestLimiter(t, config)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }
	if _, err := l.RecordFailure(ctx, "device-abc", IdentifierDevice); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	// Second failure lands after the window; the first no longer counts.
	l.now = func() time.Time { return base.Add(11 * time.Minute) }
	blocked, err := l.RecordFailure(ctx, "device-abc", IdentifierDevice)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if blocked {
		t.Error("RecordFailure() blocked = true, want false when prior failure aged out")
	}
}

func TestBlockedListAndUnblock(t *testing.T) {
	l := newTestLimiter(t, DefaultLimiterConfig())
	ctx := context.Background()

	if err := l.Block(ctx, "172.16.0.4", IdentifierIP, "manual"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if err := l.Block(ctx, "device-xyz", IdentifierDevice, "manual"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	list, err := l.Blocked(ctx)
	if err != nil {
		t.Fatalf("Blocked() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Blocked() returned %d entries, want 2", len(list))
	}

	ok, err := l.Unblock(ctx, "172.16.0.4")
	if err != nil || !ok {
		t.Fatalf("Unblock() = %v, %v, want true, nil", ok, err)
	}
	isBlocked, err := l.IsBlocked(ctx, "172.16.0.4")
	if err != nil {
		t.Fatalf("IsBlocked() error = %v", err)
	}
	if isBlocked {
		t.Error("IsBlocked() = true after Unblock()")
	}

	ok, err = l.Unblock(ctx, "172.16.0.4")
	if err != nil {
		t.Fatalf("Unblock() second call error = %v", err)
	}
	if ok {
		t.Error("Unblock() on absent identifier = true, want false")
	}
}

func TestBlocksSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "security.db")
	ctx := context.Background()

	l, err := NewLimiter(dbPath, DefaultLimiterConfig())
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	if err := l.Block(ctx, "198.51.100.7", IdentifierIP, "test persistence"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewLimiter(dbPath, DefaultLimiterConfig())
	if err != nil {
		t.Fatalf("NewLimiter() reopen error = %v", err)
	}
	defer reopened.Close()

	isBlocked, err := reopened.IsBlocked(ctx, "198.51.100.7")
	if err != nil {
		t.Fatalf("IsBlocked() error = %v", err)
	}
	if !isBlocked {
		t.Error("IsBlocked() = false after reopen, want block to persist")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.5:51234",
			want:       "203.0.113.5",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.23"},
			want:       "198.51.100.23",
		},
		{
			name:       "x-forwarded-for chain takes first",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.23, 10.0.0.2"},
			want:       "198.51.100.23",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "192.0.2.88"},
			want:       "192.0.2.88",
		},
		{
			name:       "forwarded-for beats real-ip",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.23",
				"X-Real-IP":       "192.0.2.88",
			},
			want: "198.51.100.23",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.5",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
