package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractToken(t *testing.T) {
	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer tok-123")
		if got := ExtractToken(r, false); got != "tok-123" {
			t.Fatalf("ExtractToken() = %q, want %q", got, "tok-123")
		}
	})

	t.Run("bearer trims whitespace", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer   tok-123  ")
		if got := ExtractToken(r, false); got != "tok-123" {
			t.Fatalf("ExtractToken() = %q, want %q", got, "tok-123")
		}
	})

	t.Run("x-api-token header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("X-API-Token", "tok-456")
		if got := ExtractToken(r, false); got != "tok-456" {
			t.Fatalf("ExtractToken() = %q, want %q", got, "tok-456")
		}
	})

	t.Run("bearer beats x-api-token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer first")
		r.Header.Set("X-API-Token", "second")
		if got := ExtractToken(r, false); got != "first" {
			t.Fatalf("ExtractToken() = %q, want %q", got, "first")
		}
	})

	t.Run("query allowed", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=tok-789", nil)
		if got := ExtractToken(r, true); got != "tok-789" {
			t.Fatalf("ExtractToken() = %q, want %q", got, "tok-789")
		}
	})

	t.Run("query denied", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=tok-789", nil)
		if got := ExtractToken(r, false); got != "" {
			t.Fatalf("ExtractToken() = %q, want empty", got)
		}
	})

	t.Run("no credential", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		if got := ExtractToken(r, true); got != "" {
			t.Fatalf("ExtractToken() = %q, want empty", got)
		}
	})
}

func TestAuthorizeToken(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
		want     bool
	}{
		{"match", "secret", "secret", true},
		{"mismatch", "wrong", "secret", false},
		{"empty got", "", "secret", false},
		{"empty expected fails closed", "secret", "", false},
		{"both empty fails closed", "", "", false},
		{"whitespace expected fails closed", "secret", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AuthorizeToken(tt.got, tt.expected); got != tt.want {
				t.Errorf("AuthorizeToken(%q, %q) = %v, want %v", tt.got, tt.expected, got, tt.want)
			}
		})
	}
}

func TestAuthorizeRequestNil(t *testing.T) {
	if AuthorizeRequest(nil, "secret", false) {
		t.Error("AuthorizeRequest(nil) = true, want false")
	}
}

func TestIsGuestCode(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"GUEST-ABCD1234", true},
		{"guest-abcd1234", true},
		{"Guest-XY", true},
		{"tok-123", false},
		{"", false},
		{"GUESTABCD", false},
	}

	for _, tt := range tests {
		if got := IsGuestCode(tt.token); got != tt.want {
			t.Errorf("IsGuestCode(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestExtractDeviceID(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-Device-ID", "  pixel-8a  ")
	if got := ExtractDeviceID(r); got != "pixel-8a" {
		t.Errorf("ExtractDeviceID() = %q, want %q", got, "pixel-8a")
	}
}

func TestCheckDevice(t *testing.T) {
	tests := []struct {
		name      string
		lock      bool
		bound     string
		presented string
		guest     bool
		want      DeviceDecision
	}{
		{"lock disabled", false, "", "dev-1", false, DeviceAllowed},
		{"guest bypasses lock", true, "dev-1", "dev-2", true, DeviceAllowed},
		{"first device binds", true, "", "dev-1", false, DeviceBind},
		{"no identity rejected when armed", true, "", "", false, DeviceRejected},
		{"bound match", true, "dev-1", "dev-1", false, DeviceAllowed},
		{"bound mismatch", true, "dev-1", "dev-2", false, DeviceRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckDevice(tt.lock, tt.bound, tt.presented, tt.guest)
			if got != tt.want {
				t.Errorf("CheckDevice() = %v, want %v", got, tt.want)
			}
		})
	}
}
