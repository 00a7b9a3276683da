package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/qr"
	"github.com/darkcode/darkcode-server/internal/security"
)

func runGuestCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printGuestUsage()
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	switch args[0] {
	case "create":
		return runGuestCreate(args[1:])
	case "list":
		return runGuestList(args[1:])
	case "revoke":
		return runGuestRevoke(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printGuestUsage()
		return 2
	}
}

func printGuestUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  darkcode-server guest create -name NAME [-permission read_only|full] [-expires HOURS] [-max-uses N]")
	fmt.Fprintln(os.Stderr, "  darkcode-server guest list")
	fmt.Fprintln(os.Stderr, "  darkcode-server guest revoke CODE")
}

// openGuests loads the config and opens the guest database for a
// subcommand invocation.
func openGuests(configPath string) (config.Config, *security.GuestManager, error) {
	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		return cfg, nil, err
	}
	guests, err := security.NewGuestManager(cfg.GuestDBPath())
	if err != nil {
		return cfg, nil, err
	}
	return cfg, guests, nil
}

func runGuestCreate(args []string) int {
	fs := flag.NewFlagSet("darkcode-server guest create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	name := fs.String("name", "", "guest display name (required)")
	permission := fs.String("permission", config.PermissionReadOnly, "permission level: read_only or full")
	expires := fs.Int("expires", 24, "validity in hours, 0 = never expires")
	maxUses := fs.Int("max-uses", 0, "maximum connections, 0 = unlimited")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "Error: -name is required")
		return 2
	}

	cfg, guests, err := openGuests(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer guests.Close()

	code, err := guests.CreateCode(context.Background(), *name, *permission, *expires, *maxUses)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	successColor.Printf("Guest code created: %s\n", code.Code)
	if !code.ExpiresAt.IsZero() {
		fmt.Printf("Expires: %s\n", code.ExpiresAt.Format("2006-01-02 15:04"))
	}
	if code.MaxUses > 0 {
		fmt.Printf("Max uses: %d\n", code.MaxUses)
	}
	fmt.Println()

	if err := qr.PrintGuestInfo(os.Stdout, cfg, code.Code, code.PermissionLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runGuestList(args []string) int {
	fs := flag.NewFlagSet("darkcode-server guest list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	_, guests, err := openGuests(*configPath)
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
	if len(codes) == 0 {
		fmt.Println("No guest codes.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tPERMISSION\tSTATUS\tUSES\tEXPIRES")
	for _, c := range codes {
		uses := fmt.Sprintf("%d", c.UseCount)
		if c.MaxUses > 0 {
			uses = fmt.Sprintf("%d/%d", c.UseCount, c.MaxUses)
		}
		expires := "never"
		if !c.ExpiresAt.IsZero() {
			expires = c.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Code, c.Name, c.PermissionLevel, c.Status(), uses, expires)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runGuestRevoke(args []string) int {
	fs := flag.NewFlagSet("darkcode-server guest revoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	code := strings.TrimSpace(fs.Arg(0))
	if code == "" {
		fmt.Fprintln(os.Stderr, "Error: a guest code is required")
		printGuestUsage()
		return 2
	}

	_, guests, err := openGuests(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer guests.Close()

	found, err := guests.RevokeCode(context.Background(), code)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "Error: unknown guest code %s\n", strings.ToUpper(code))
		return 1
	}
	fmt.Printf("Revoked %s. Active connections using it stay open until they disconnect.\n", strings.ToUpper(code))
	return 0
}
