package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/security"
)

func runSecurityCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printSecurityUsage()
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	switch args[0] {
	case "status":
		return runSecurityStatus(args[1:])
	case "reset-token":
		return runSecurityResetToken(args[1:])
	case "unblock":
		return runSecurityUnblock(args[1:])
	case "unbind":
		return runSecurityUnbind(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printSecurityUsage()
		return 2
	}
}

func printSecurityUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  darkcode-server security status")
	fmt.Fprintln(os.Stderr, "  darkcode-server security reset-token")
	fmt.Fprintln(os.Stderr, "  darkcode-server security unblock IDENTIFIER")
	fmt.Fprintln(os.Stderr, "  darkcode-server security unbind")
}

func runSecurityStatus(args []string) int {
	fs := flag.NewFlagSet("darkcode-server security status", flag.ContinueOnError)
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

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	row := func(key, value string) {
		fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint(key), value)
	}
	row("auth token", config.MaskToken(cfg.Token))
	row("tls", onOff(cfg.TLSEnabled))
	row("mtls", onOff(cfg.MTLSEnabled))
	row("device lock", onOff(cfg.DeviceLock))
	if cfg.DeviceLock && cfg.BoundDeviceID != "" {
		row("bound device", cfg.BoundDeviceID)
	}
	row("local only", onOff(cfg.LocalOnly))
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	limiter, err := security.NewLimiter(cfg.SecurityDBPath(), security.DefaultLimiterConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer limiter.Close()

	blocked, err := limiter.Blocked(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println()
	if len(blocked) == 0 {
		fmt.Println("No blocked identifiers.")
		return 0
	}

	tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tTYPE\tREASON\tBLOCKED AT")
	for _, b := range blocked {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Identifier, b.IdentifierType, b.Reason, b.BlockedAt.Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runSecurityResetToken(args []string) int {
	fs := flag.NewFlagSet("darkcode-server security reset-token", flag.ContinueOnError)
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

	token, err := config.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.Token = token
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	successColor.Println("Auth token rotated.")
	fmt.Printf("New token: %s\n", config.MaskToken(cfg.Token))
	noteColor.Println("A running server picks up the change automatically.")
	noteColor.Println("Re-pair devices with: darkcode-server qr")
	return 0
}

func runSecurityUnblock(args []string) int {
	fs := flag.NewFlagSet("darkcode-server security unblock", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	identifier := strings.TrimSpace(fs.Arg(0))
	if identifier == "" {
		fmt.Fprintln(os.Stderr, "Error: an identifier (IP or device ID) is required")
		printSecurityUsage()
		return 2
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	limiter, err := security.NewLimiter(cfg.SecurityDBPath(), security.DefaultLimiterConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer limiter.Close()

	found, err := limiter.Unblock(context.Background(), identifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "Error: %s is not blocked\n", identifier)
		return 1
	}
	fmt.Printf("Unblocked %s.\n", identifier)
	return 0
}

func runSecurityUnbind(args []string) int {
	fs := flag.NewFlagSet("darkcode-server security unbind", flag.ContinueOnError)
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
	if cfg.BoundDeviceID == "" {
		fmt.Println("No device bound.")
		return 0
	}

	previous := cfg.BoundDeviceID
	cfg.BoundDeviceID = ""
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Unbound device %s. The next device to connect binds the lock.\n", previous)
	return 0
}
