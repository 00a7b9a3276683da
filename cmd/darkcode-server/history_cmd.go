package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/darkcode/darkcode-server/internal/history"
)

func runHistoryCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printHistoryUsage()
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	switch args[0] {
	case "list":
		return runHistoryList(args[1:])
	case "search":
		return runHistorySearch(args[1:])
	case "export":
		return runHistoryExport(args[1:])
	case "delete":
		return runHistoryDelete(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printHistoryUsage()
		return 2
	}
}

func printHistoryUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  darkcode-server history list [-n N]")
	fmt.Fprintln(os.Stderr, "  darkcode-server history search [-n N] TERM")
	fmt.Fprintln(os.Stderr, "  darkcode-server history export [-out DIR] SESSION")
	fmt.Fprintln(os.Stderr, "  darkcode-server history delete SESSION")
}

// openHistory loads the config and opens the conversation store for a
// subcommand invocation.
func openHistory(configPath string) (*history.Store, error) {
	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		return nil, err
	}
	return history.New(cfg.HistoryDBPath())
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("darkcode-server history list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	limit := fs.Int("n", 20, "maximum conversations to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	convs, err := store.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return 0
	}
	return printConversationTable(convs)
}

func runHistorySearch(args []string) int {
	fs := flag.NewFlagSet("darkcode-server history search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	limit := fs.Int("n", 20, "maximum conversations to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	term := strings.TrimSpace(fs.Arg(0))
	if term == "" {
		fmt.Fprintln(os.Stderr, "Error: a search term is required")
		printHistoryUsage()
		return 2
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	convs, err := store.Search(context.Background(), term, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(convs) == 0 {
		fmt.Printf("No conversations match %q.\n", term)
		return 0
	}
	return printConversationTable(convs)
}

func runHistoryExport(args []string) int {
	fs := flag.NewFlagSet("darkcode-server history export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	outDir := fs.String("out", ".", "directory to write the markdown file to")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	sessionID := strings.TrimSpace(fs.Arg(0))
	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "Error: a session ID is required (see 'history list')")
		printHistoryUsage()
		return 2
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	path, err := store.ExportMarkdown(context.Background(), sessionID, *outDir)
	if errors.Is(err, history.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: no conversation for session %s\n", sessionID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	successColor.Printf("Exported to %s\n", path)
	return 0
}

func runHistoryDelete(args []string) int {
	fs := flag.NewFlagSet("darkcode-server history delete", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	sessionID := strings.TrimSpace(fs.Arg(0))
	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "Error: a session ID is required (see 'history list')")
		printHistoryUsage()
		return 2
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	found, err := store.Delete(context.Background(), sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "Error: no conversation for session %s\n", sessionID)
		return 1
	}
	fmt.Printf("Deleted conversation %s.\n", sessionID)
	return 0
}

func printConversationTable(convs []*history.Conversation) int {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tDEVICE\tMESSAGES\tUPDATED")
	for _, c := range convs {
		device := c.DeviceName
		if device == "" {
			device = "-"
		}
		updated := time.UnixMicro(c.UpdateTimestamp).Format("2006-01-02 15:04")
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.SessionID, device, len(c.Messages), updated)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
