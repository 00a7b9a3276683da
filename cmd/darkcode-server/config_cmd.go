// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/darkcode/darkcode-server/internal/config"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	switch args[0] {
	case "show":
		return runConfigShow(args[1:])
	case "validate":
		return runConfigValidate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  darkcode-server config show [-config FILE] [-format yaml|json] [-reveal]")
	fmt.Fprintln(os.Stderr, "  darkcode-server config validate [-config FILE]")
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("darkcode-server config show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	format := fs.String("format", "yaml", "output format: yaml or json")
	reveal := fs.Bool("reveal", false, "print the auth token in the clear")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !*reveal {
		cfg.Token = config.MaskToken(cfg.Token)
		cfg.Redis.Password = config.MaskToken(cfg.Redis.Password)
	}
	view := config.Persisted(cfg)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := enc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (yaml or json)\n", *format)
		return 2
	}
	return 0
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("darkcode-server config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := resolveConfigPath(*configPath)
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}

	fmt.Printf("%s is valid\n", path)
	if err := config.ValidateForServe(cfg); err != nil {
		alertColor.Printf("Not serve-ready: %v\n", err)
		noteColor.Println("Run 'darkcode-server init' to finish setup.")
	}
	return 0
}
