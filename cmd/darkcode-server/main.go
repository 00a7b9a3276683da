// SPDX-License-Identifier: MIT

// darkcode-server pairs a phone with a local coding agent: it serves
// the websocket bridge, the admin dashboard, and the provisioning CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/darkcode/darkcode-server/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "init":
		return runInit(args[1:])
	case "qr":
		return runQR(args[1:])
	case "info":
		return runInfo(args[1:])
	case "guest":
		return runGuestCLI(args[1:])
	case "security":
		return runSecurityCLI(args[1:])
	case "history":
		return runHistoryCLI(args[1:])
	case "config":
		return runConfigCLI(args[1:])
	case "status":
		return runStatus(args[1:])
	case "stop":
		return runStop(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("darkcode-server %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return 0
	default:
		// Bare flags mean "serve" so `darkcode-server -port 9000` works.
		if strings.HasPrefix(args[0], "-") {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "Usage: darkcode-server <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      run the server (default)")
	fmt.Fprintln(w, "  init       first-run setup: config, token, admin PIN")
	fmt.Fprintln(w, "  qr         print the pairing QR code")
	fmt.Fprintln(w, "  info       print connection info")
	fmt.Fprintln(w, "  guest      manage guest access codes (create|list|revoke)")
	fmt.Fprintln(w, "  security   security management (status|reset-token|unblock|unbind)")
	fmt.Fprintln(w, "  history    conversation transcripts (list|search|export|delete)")
	fmt.Fprintln(w, "  config     configuration tools (show|validate)")
	fmt.Fprintln(w, "  status     report whether the server is running")
	fmt.Fprintln(w, "  stop       stop a running server")
	fmt.Fprintln(w, "  version    print version and exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'darkcode-server <command> -h' for command flags.")
}
