package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/darkcode/darkcode-server/internal/agent"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/netutil"
	"github.com/darkcode/darkcode-server/internal/qr"
	"github.com/darkcode/darkcode-server/internal/security"
	"github.com/darkcode/darkcode-server/internal/version"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	labelColor   = color.New(color.FgCyan)
	noteColor    = color.New(color.FgHiBlack)
	alertColor   = color.New(color.FgYellow, color.Bold)
)

func runInit(args []string) int {
	fs := flag.NewFlagSet("darkcode-server init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	force := fs.Bool("force", false, "overwrite an existing configuration")
	name := fs.String("name", "", "server display name")
	port := fs.Int("port", 0, "listen port")
	workdir := fs.String("workdir", "", "agent working directory")
	localOnly := fs.Bool("local-only", false, "bind to localhost only (SSH tunnel mode)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *name != "" {
		cfg.ServerName = *name
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *workdir != "" {
		if abs, err := filepath.Abs(*workdir); err == nil {
			cfg.WorkingDir = abs
		} else {
			cfg.WorkingDir = *workdir
		}
	}
	if *localOnly {
		cfg.LocalOnly = true
	}

	res, err := config.Init(cfg, *force)
	if err != nil {
		if errors.Is(err, config.ErrAlreadyInitialized) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	successColor.Println("Setup complete.")
	fmt.Printf("Config written to %s\n\n", res.Config.ConfigFilePath())
	fmt.Printf("Admin PIN: %s\n", alertColor.Sprint(res.AdminPIN))
	noteColor.Println("Store it now. Only its hash is saved; it cannot be shown again.")
	fmt.Println()

	if err := qr.PrintServerInfo(os.Stdout, res.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println()
	noteColor.Println("Start the server with: darkcode-server serve")
	return 0
}

// loadCLIConfig loads the effective configuration for a subcommand.
func loadCLIConfig(configPath string) (config.Config, error) {
	loader := config.NewLoader(resolveConfigPath(configPath))
	return loader.Load()
}

func runQR(args []string) int {
	fs := flag.NewFlagSet("darkcode-server qr", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	guestCode := fs.String("guest", "", "print the QR for an existing guest code instead")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "Error: no auth token configured, run 'darkcode-server init' first")
		return 1
	}

	if *guestCode == "" {
		if err := qr.PrintServerInfo(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	guests, err := security.NewGuestManager(cfg.GuestDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer guests.Close()

	codes, err := guests.ListCodes(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	want := strings.ToUpper(strings.TrimSpace(*guestCode))
	for _, c := range codes {
		if c.Code != want {
			continue
		}
		if c.Status() != security.StatusActive {
			fmt.Fprintf(os.Stderr, "Error: guest code %s is %s\n", c.Code, c.Status())
			return 1
		}
		if err := qr.PrintGuestInfo(os.Stdout, cfg, c.Code, c.PermissionLevel); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: unknown guest code %s\n", want)
	return 1
}

func runInfo(args []string) int {
	fs := flag.NewFlagSet("darkcode-server info", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	scheme := "ws"
	if cfg.TLSEnabled {
		scheme = "wss"
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	row := func(key, value string) {
		fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint(key), value)
	}

	row("server", cfg.ServerName)
	row("version", version.String())
	row("mode", cfg.Mode)
	row("bind", net.JoinHostPort(cfg.EffectiveBindHost(), strconv.Itoa(cfg.Port)))
	if !cfg.LocalOnly {
		if addrs, err := netutil.NamedInterfaceIPs(); err == nil {
			for _, a := range addrs {
				row(a.Name, fmt.Sprintf("%s://%s:%d", scheme, a.IP, cfg.Port))
			}
		}
		ts := agent.TailscaleStatus(context.Background())
		switch {
		case ts.Online && ts.IP != "":
			row("tailscale", fmt.Sprintf("%s://%s:%d", scheme, ts.IP, cfg.Port))
		case ts.Installed:
			row("tailscale", "installed, offline")
		}
	}
	row("working dir", cfg.WorkingDir)
	row("agent", cfg.AgentBin)
	row("config dir", cfg.ConfigDir)
	row("auth token", config.MaskToken(cfg.Token))
	row("tls", onOff(cfg.TLSEnabled))
	row("mtls", onOff(cfg.MTLSEnabled))
	row("device lock", onOff(cfg.DeviceLock))
	row("admin", onOff(cfg.AdminEnabled))
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
