// Package auth extracts and validates credentials carried by incoming
// requests: the server auth token, guest access codes, and device identity.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/darkcode/darkcode-server/internal/log"
)

// GuestCodePrefix marks a credential as a guest access code rather than the
// server token.
const GuestCodePrefix = "GUEST-"

// ExtractToken retrieves the credential from the request.
// 1. Authorization: Bearer <token>
// 2. Header: X-API-Token
// 3. Query: ?token= (if enabled; mobile WebSocket dialers often cannot set headers)
func ExtractToken(r *http.Request, allowQuery bool) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}

	if t := r.Header.Get("X-API-Token"); t != "" {
		return t
	}

	if allowQuery {
		if t := r.URL.Query().Get("token"); t != "" {
			logger := log.WithComponent("auth")
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("query parameter authentication is insecure (tokens end up in proxy logs); prefer the Authorization header")
			return t
		}
	}

	return ""
}

// ExtractDeviceID retrieves the client device identifier, if presented.
func ExtractDeviceID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Device-ID"))
}

// AuthorizeToken returns true if got matches expected using constant-time
// comparison. Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// AuthorizeRequest extracts a token from r and validates it against
// expectedToken.
func AuthorizeRequest(r *http.Request, expectedToken string, allowQuery bool) bool {
	if r == nil {
		return false
	}
	return AuthorizeToken(ExtractToken(r, allowQuery), expectedToken)
}

// IsGuestCode reports whether the presented credential is a guest access
// code. Matching is case-insensitive since codes are read aloud or typed.
func IsGuestCode(token string) bool {
	return strings.HasPrefix(strings.ToUpper(token), GuestCodePrefix)
}
