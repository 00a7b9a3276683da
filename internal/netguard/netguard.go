// Package netguard enforces the rule that the server never talks to
// the public internet. Conversations and agent output only ever flow
// over the accepted WebSocket connection; the one optional outbound
// connection (the telemetry exporter) must resolve inside the user's
// own network boundary unless an address is explicitly allowlisted.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrPublicEndpoint indicates the endpoint resolves outside the local
// network boundary.
var ErrPublicEndpoint = errors.New("endpoint resolves outside the local network boundary")

// privateCIDRs are the ranges considered "the user's own network":
// RFC 1918, loopback, link-local, IPv6 ULA, and the CGNAT range
// Tailscale assigns from.
var privateCIDRs = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

// Policy widens the built-in boundary for setups that reach a
// collector through a named gateway or an extra routed subnet.
type Policy struct {
	ExtraHosts []string
	ExtraCIDRs []string
}

// NormalizeHost validates and normalizes a host for comparison.
// IDN hostnames are mapped to their ASCII form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// CheckEndpoint verifies that an endpoint stays inside the boundary.
// It accepts "host:port", a bare host, or a URL.
func (p Policy) CheckEndpoint(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("endpoint is empty")
	}

	host := endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint url: %w", err)
		}
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}

	return p.CheckHost(ctx, host)
}

// CheckHost verifies that a host resolves entirely inside the
// boundary. A single public address fails the whole host, so a
// split-horizon name cannot smuggle traffic out.
func (p Policy) CheckHost(ctx context.Context, rawHost string) error {
	host, err := NormalizeHost(rawHost)
	if err != nil {
		return err
	}

	allowedHosts, err := normalizeHosts(p.ExtraHosts)
	if err != nil {
		return fmt.Errorf("invalid extra host allowlist: %w", err)
	}
	if _, ok := allowedHosts[host]; ok {
		return nil
	}

	extraNets, err := parseCIDRs(p.ExtraCIDRs)
	if err != nil {
		return fmt.Errorf("invalid extra cidr allowlist: %w", err)
	}

	ips, err := resolveHostIPs(ctx, host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if !IsPrivate(ip) && !ipInNets(ip, extraNets) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPublicEndpoint, host, ip)
		}
	}
	return nil
}

// IsPrivate reports whether the IP lies inside the built-in boundary.
func IsPrivate(ip net.IP) bool {
	return ipInNets(ip, privateCIDRs)
}

func normalizeHosts(hosts []string) (map[string]struct{}, error) {
	allow := make(map[string]struct{})
	for _, host := range hosts {
		if strings.TrimSpace(host) == "" {
			continue
		}
		normalized, err := NormalizeHost(host)
		if err != nil {
			return nil, err
		}
		allow[normalized] = struct{}{}
	}
	return allow, nil
}

func parseCIDRs(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid CIDR or IP: %s", entry)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

func resolveHostIPs(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %w", host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IP != nil {
			ips = append(ips, addr.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve host %q: no addresses", host)
	}
	return ips, nil
}

func ipInNets(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(entries ...string) []*net.IPNet {
	nets, err := parseCIDRs(entries)
	if err != nil {
		panic(err)
	}
	return nets
}
