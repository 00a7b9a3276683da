// Package netutil detects the addresses clients can reach this server
// on. The results feed certificate SANs, the connection QR code, and
// the info command.
package netutil

import (
	"fmt"
	"net"
	"strings"
)

// virtualPrefixes name interfaces that carry container or VM traffic.
// Addresses on these are reachable from inside the host only and would
// produce QR codes the phone cannot connect to.
var virtualPrefixes = []string{
	"docker", "br-", "veth", "virbr", "vmnet", "cni", "flannel",
}

// tailscaleCGNAT is the range Tailscale assigns node addresses from.
var tailscaleCGNAT = mustCIDR("100.64.0.0/10")

// InterfaceIPs returns all usable addresses on up interfaces,
// excluding loopback and link-local. Virtual interfaces are included
// here since certificates should cover every address the host answers
// on.
func InterfaceIPs() ([]net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var ips []net.IP
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := addrIP(addr)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

// InterfaceAddr pairs an IPv4 address with the interface carrying it.
type InterfaceAddr struct {
	Name string
	IP   net.IP
}

// NamedInterfaceIPs returns every up, non-loopback IPv4 with its
// interface name, physical interfaces first. Callers rendering
// connection info show all of them; callers picking a dial address
// take the first entry.
func NamedInterfaceIPs() ([]InterfaceAddr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var physical, virtual []InterfaceAddr
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			v4 := addrIP(addr).To4()
			if v4 == nil || v4.IsLoopback() || v4.IsLinkLocalUnicast() {
				continue
			}
			entry := InterfaceAddr{Name: iface.Name, IP: v4}
			if IsVirtualInterface(iface.Name) {
				virtual = append(virtual, entry)
			} else {
				physical = append(physical, entry)
			}
		}
	}
	return append(physical, virtual...), nil
}

// LANIP returns the address a phone on the same network should dial:
// the first private IPv4 on a physical interface. Container bridges
// and the Tailscale range are skipped.
func LANIP() (net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var fallback net.IP
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if IsVirtualInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := addrIP(addr)
			v4 := ip.To4()
			if v4 == nil || v4.IsLoopback() || v4.IsLinkLocalUnicast() {
				continue
			}
			if tailscaleCGNAT.Contains(v4) {
				continue
			}
			if v4.IsPrivate() {
				return v4, nil
			}
			if fallback == nil {
				fallback = v4
			}
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no LAN address found")
}

// TailscaleIP returns the host's Tailscale address when one is
// assigned, detected by range membership rather than interface name so
// userspace-networking setups are covered too.
func TailscaleIP() (net.IP, bool) {
	ips, err := InterfaceIPs()
	if err != nil {
		return nil, false
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil && tailscaleCGNAT.Contains(v4) {
			return v4, true
		}
	}
	return nil, false
}

// IsVirtualInterface reports whether the interface name belongs to a
// container or VM bridge.
func IsVirtualInterface(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func addrIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}
