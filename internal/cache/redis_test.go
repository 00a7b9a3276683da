package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/config"
)

func newRedisTestCache(t *testing.T) (Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisGetSet(t *testing.T) {
	c, _ := newRedisTestCache(t)

	c.Set("admin_session:tok", "1", time.Minute)
	got, found := c.Get("admin_session:tok")
	if !found {
		t.Fatal("Get() after Set() found nothing")
	}
	if got != "1" {
		t.Errorf("Get() = %q, want %q", got, "1")
	}

	if _, found := c.Get("absent"); found {
		t.Error("Get() on unknown key found a value")
	}
}

func TestRedisExpiry(t *testing.T) {
	c, mr := newRedisTestCache(t)

	c.Set("short", "lived", time.Second)
	mr.FastForward(2 * time.Second)

	if _, found := c.Get("short"); found {
		t.Error("Get() returned a value past its TTL")
	}
}

func TestRedisDelete(t *testing.T) {
	c, _ := newRedisTestCache(t)

	c.Set("key", "value", time.Minute)
	c.Delete("key")
	if _, found := c.Get("key"); found {
		t.Error("Get() found a deleted key")
	}
}

func TestRedisConnectFailure(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	if err == nil {
		t.Error("NewRedis() with unreachable addr should fail")
	}
}

func TestFactoryFallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	cfg.CacheBackend = BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	c := New(cfg, zerolog.Nop())
	defer c.Close()

	// The fallback must behave like a working cache.
	c.Set("k", "v", time.Minute)
	if got, found := c.Get("k"); !found || got != "v" {
		t.Errorf("fallback cache Get() = %q, %v, want %q, true", got, found, "v")
	}
}
