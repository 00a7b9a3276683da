package security

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/darkcode/darkcode-server/internal/config"
)

func newTestGuestManager(t *testing.T) *GuestManager {
	t.Helper()
	m, err := NewGuestManager(filepath.Join(t.TempDir(), "guests.db"))
	if err != nil {
		t.Fatalf("NewGuestManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateCodeFormat(t *testing.T) {
	m := newTestGuestManager(t)

	g, err := m.CreateCode(context.Background(), "alice", config.PermissionReadOnly, 0, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}
	if !strings.HasPrefix(g.Code, "GUEST-") {
		t.Errorf("code %q missing GUEST- prefix", g.Code)
	}
	suffix := strings.TrimPrefix(g.Code, "GUEST-")
	if len(suffix) != 8 {
		t.Errorf("code suffix length = %d, want 8", len(suffix))
	}
	for _, c := range suffix {
		if !strings.ContainsRune(codeAlphabet, c) {
			t.Errorf("code %q contains %q outside the alphabet", g.Code, c)
		}
	}
	if g.Status() != StatusActive {
		t.Errorf("Status() = %q, want %q", g.Status(), StatusActive)
	}
	if !g.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero for no expiry", g.ExpiresAt)
	}
}

func TestCreateCodeValidation(t *testing.T) {
	m := newTestGuestManager(t)

	if _, err := m.CreateCode(context.Background(), "bob", "admin", 0, 0); err == nil {
		t.Error("CreateCode() with unknown permission level should fail")
	}
	if _, err := m.CreateCode(context.Background(), "", config.PermissionFull, 0, 0); err == nil {
		t.Error("CreateCode() with empty name should fail")
	}
}

func TestValidateConsumesUse(t *testing.T) {
	m := newTestGuestManager(t)
	ctx := context.Background()

	g, err := m.CreateCode(ctx, "carol", config.PermissionFull, 0, 2)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	for i := 1; i <= 2; i++ {
		got, err := m.Validate(ctx, g.Code)
		if err != nil {
			t.Fatalf("Validate() use %d error = %v", i, err)
		}
		if got.UseCount != i {
			t.Errorf("use %d: UseCount = %d, want %d", i, got.UseCount, i)
		}
		if got.PermissionLevel != config.PermissionFull {
			t.Errorf("PermissionLevel = %q, want %q", got.PermissionLevel, config.PermissionFull)
		}
	}

	if _, err := m.Validate(ctx, g.Code); !errors.Is(err, ErrGuestCodeExhausted) {
		t.Errorf("Validate() after max uses error = %v, want ErrGuestCodeExhausted", err)
	}
}

func TestValidateRejectsRevoked(t *testing.T) {
	m := newTestGuestManager(t)
	ctx := context.Background()

	g, err := m.CreateCode(ctx, "dave", config.PermissionReadOnly, 0, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}
	ok, err := m.RevokeCode(ctx, g.Code)
	if err != nil || !ok {
		t.Fatalf("RevokeCode() = %v, %v, want true, nil", ok, err)
	}
	if _, err := m.Validate(ctx, g.Code); !errors.Is(err, ErrGuestCodeRevoked) {
		t.Errorf("Validate() error = %v, want ErrGuestCodeRevoked", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := newTestGuestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	g, err := m.CreateCode(ctx, "erin", config.PermissionReadOnly, 1, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	if _, err := m.Validate(ctx, g.Code); err != nil {
		t.Fatalf("Validate() before expiry error = %v", err)
	}

	// Status() compares against the wall clock, so rewrite the stored
	// expiry into the past instead of sleeping.
	if _, err := m.db.Exec(`UPDATE guest_codes SET expires_at = ? WHERE code = ?`,
		base.Add(-time.Minute).Unix(), g.Code); err != nil {
		t.Fatalf("rewind expiry: %v", err)
	}
	if _, err := m.Validate(ctx, g.Code); !errors.Is(err, ErrGuestCodeExpired) {
		t.Errorf("Validate() after expiry error = %v, want ErrGuestCodeExpired", err)
	}
}

func TestValidateUnknownCode(t *testing.T) {
	m := newTestGuestManager(t)
	if _, err := m.Validate(context.Background(), "GUEST-NOPENOPE"); !errors.Is(err, ErrGuestCodeInvalid) {
		t.Errorf("Validate() error = %v, want ErrGuestCodeInvalid", err)
	}
}

func TestValidateNormalizesInput(t *testing.T) {
	m := newTestGuestManager(t)
	ctx := context.Background()

	g, err := m.CreateCode(ctx, "frank", config.PermissionReadOnly, 0, 0)
	if err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	// Lowercase and prefix-less input should resolve to the same code.
	bare := strings.ToLower(strings.TrimPrefix(g.Code, "GUEST-"))
	got, err := m.Validate(ctx, bare)
	if err != nil {
		t.Fatalf("Validate(%q) error = %v", bare, err)
	}
	if got.Code != g.Code {
		t.Errorf("Validate(%q).Code = %q, want %q", bare, got.Code, g.Code)
	}
}

func TestRevokeUnknownCode(t *testing.T) {
	m := newTestGuestManager(t)
	ok, err := m.RevokeCode(context.Background(), "GUEST-MISSING1")
	if err != nil {
		t.Fatalf("RevokeCode() error = %v", err)
	}
	if ok {
		t.Error("RevokeCode() on unknown code = true, want false")
	}
}

func TestListCodesNewestFirst(t *testing.T) {
	m := newTestGuestManager(t)
	ctx := context.Background()

	base := time.Now()
	for i, name := range []string{"first", "second", "third"} {
		tick := base.Add(time.Duration(i) * time.Second)
		m.now = func() time.Time { return tick }
		if _, err := m.CreateCode(ctx, name, config.PermissionReadOnly, 0, 0); err != nil {
			t.Fatalf("CreateCode(%q) error = %v", name, err)
		}
	}

	codes, err := m.ListCodes(ctx)
	if err != nil {
		t.Fatalf("ListCodes() error = %v", err)
	}
	if len(codes) != 3 {
		t.Fatalf("ListCodes() returned %d codes, want 3", len(codes))
	}
	if codes[0].Name != "third" || codes[2].Name != "first" {
		t.Errorf("ListCodes() order = [%s %s %s], want newest first",
			codes[0].Name, codes[1].Name, codes[2].Name)
	}
}
