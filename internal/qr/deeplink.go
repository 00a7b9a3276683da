// Package qr builds the darkcode:// deep links the mobile app scans
// and renders them as terminal QR codes, along with the server info
// block shown at startup.
package qr

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/netutil"
)

// Scheme is the deep link prefix registered by the mobile app.
const Scheme = "darkcode://server/add?config="

// Payload is the connection bundle carried inside a deep link. The app
// decodes it and fills its server form from these fields.
type Payload struct {
	Name  string `json:"name"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token"`
	Mode  string `json:"mode"`
	Ts    int64  `json:"ts"`
}

// DeepLink builds the connection link for the owner token.
func DeepLink(cfg config.Config, mode string) string {
	return linkWithToken(cfg, mode, cfg.Token)
}

// GuestDeepLink builds a connection link carrying a guest access code
// instead of the owner token.
func GuestDeepLink(cfg config.Config, mode, guestCode string) string {
	return linkWithToken(cfg, mode, guestCode)
}

// ParsePayload decodes a deep link back into its payload. Used by the
// admin dashboard preview and by tests.
func ParsePayload(link string) (Payload, error) {
	var p Payload
	encoded := link
	if len(link) >= len(Scheme) && link[:len(Scheme)] == Scheme {
		encoded = link[len(Scheme):]
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(raw, &p)
	return p, err
}

func linkWithToken(cfg config.Config, mode, token string) string {
	payload := Payload{
		Name:  cfg.ServerName,
		Host:  dialHost(cfg, mode),
		Port:  cfg.Port,
		Token: token,
		Mode:  mode,
		Ts:    time.Now().UnixMilli(),
	}
	raw, _ := json.Marshal(payload)
	return Scheme + base64.RawURLEncoding.EncodeToString(raw)
}

// dialHost picks the address the phone should connect to for the given
// mode: the Tailscale address when asked for and present, otherwise
// the LAN address, otherwise the configured bind host.
func dialHost(cfg config.Config, mode string) string {
	if mode == config.ModeTailscale {
		if ip, ok := netutil.TailscaleIP(); ok {
			return ip.String()
		}
	}
	if ip, err := netutil.LANIP(); err == nil {
		return ip.String()
	}
	if cfg.BindHost != "" && cfg.BindHost != "0.0.0.0" && cfg.BindHost != "::" {
		return cfg.BindHost
	}
	return "localhost"
}
