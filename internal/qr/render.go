package qr

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/netutil"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	keyColor     = color.New(color.FgCyan)
	headingColor = color.New(color.FgGreen, color.Bold)
	accentColor  = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// RenderTerminal writes the link as a scannable QR code. Dark modules
// render as spaces and light ones as full blocks, which keeps the code
// readable on the dark terminal backgrounds most developers run.
func RenderTerminal(w io.Writer, link string) error {
	code, err := qrcode.New(link, qrcode.Low)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	code.DisableBorder = true

	bitmap := code.Bitmap()
	width := len(bitmap) + 2

	quiet := strings.Repeat("██", width)
	fmt.Fprintln(w, quiet)
	for _, row := range bitmap {
		var line strings.Builder
		line.WriteString("██")
		for _, dark := range row {
			if dark {
				line.WriteString("  ")
			} else {
				line.WriteString("██")
			}
		}
		line.WriteString("██")
		fmt.Fprintln(w, line.String())
	}
	fmt.Fprintln(w, quiet)
	return nil
}

// PrintServerInfo writes the startup block: connection table, then QR
// codes for each usable mode. Local-only servers get an SSH hint
// instead of a QR code since loopback links are useless on a phone.
func PrintServerInfo(w io.Writer, cfg config.Config) error {
	titleColor.Fprintln(w, "Server Info")
	fmt.Fprintln(w, strings.Repeat("─", 40))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(key, value string) {
		fmt.Fprintf(tw, "%s\t%s\n", keyColor.Sprint(key), value)
	}

	row("bind", fmt.Sprintf("%s:%d", cfg.BindHost, cfg.Port))

	scheme := "ws"
	if cfg.TLSEnabled {
		scheme = "wss"
	}

	if cfg.LocalOnly {
		row("mode", "SSH tunnel (localhost only)")
	} else {
		row("mode", cfg.Mode)
		if addrs, err := netutil.NamedInterfaceIPs(); err == nil {
			for _, a := range addrs {
				row(a.Name, fmt.Sprintf("%s://%s:%d", scheme, a.IP, cfg.Port))
			}
		}
		if ip, ok := netutil.TailscaleIP(); ok {
			row("tailscale", fmt.Sprintf("%s://%s:%d", scheme, ip, cfg.Port))
		}
	}

	row("working dir", cfg.WorkingDir)
	row("auth token", config.MaskToken(cfg.Token))
	if err := tw.Flush(); err != nil {
		return err
	}

	if cfg.LocalOnly {
		dimColor.Fprintln(w, "\nQR code disabled for localhost-only mode.")
		dimColor.Fprintln(w, "Use an SSH tunnel and configure the app with localhost manually.")
		return nil
	}

	if _, ok := netutil.TailscaleIP(); ok {
		headingColor.Fprintln(w, "\nScan to connect (Tailscale - recommended):")
		fmt.Fprintln(w, strings.Repeat("-", 40))
		if err := printLink(w, DeepLink(cfg, config.ModeTailscale)); err != nil {
			return err
		}
	}

	accentColor.Fprintln(w, "\nScan to connect (Direct LAN):")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	return printLink(w, DeepLink(cfg, config.ModeDirect))
}

// PrintGuestInfo writes the QR block for a freshly created guest code.
func PrintGuestInfo(w io.Writer, cfg config.Config, guestCode, permission string) error {
	headingColor.Fprintf(w, "Guest access: %s (%s)\n", guestCode, permission)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	return printLink(w, GuestDeepLink(cfg, config.ModeDirect, guestCode))
}

func printLink(w io.Writer, link string) error {
	if err := RenderTerminal(w, link); err != nil {
		return err
	}
	shown := link
	if len(shown) > 60 {
		shown = shown[:60] + "..."
	}
	dimColor.Fprintf(w, "\nLink: %s\n", shown)
	return nil
}
