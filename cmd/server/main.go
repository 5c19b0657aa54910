package main

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
)

const Version = "v0.3.0"

func main() {
	args := os.Args[1:]

	// Check for subcommands first
	if len(args) > 0 {
		switch args[0] {
		case "init":
			if err := runInit(args[1:]); err != nil {
				log.Fatalf("init failed: %v", err)
			}
			return
		case "set-credentials":
			if err := runSetCredentials(args[1:]); err != nil {
				log.Fatalf("set-credentials failed: %v", err)
			}
			return
		case "serve":
			args = args[1:]
		case "--version", "-version", "version":
			printVersion()
			return
		case "--help", "-help", "-h", "help":
			printHelp()
			return
		default:
			if !strings.HasPrefix(args[0], "-") {
				fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
				printHelp()
				os.Exit(2)
			}
		}
	}

	// Check for --version or --help mixed into serve flags
	for _, arg := range args {
		if arg == "--version" || arg == "-version" {
			printVersion()
			return
		}
		if arg == "--help" || arg == "-help" || arg == "-h" {
			printHelp()
			return
		}
	}

	if err := runServe(args); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// printVersion displays version information
func printVersion() {
	fmt.Printf("Simple Site Analytics %s\n", Version)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp displays usage information
func printHelp() {
	fmt.Printf("Simple Site Analytics %s - Privacy-friendly website analytics\n", Version)
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  ssa-server [serve] [flags]")
	fmt.Println("  ssa-server init --username <user> --password <pass> [flags]")
	fmt.Println("  ssa-server set-credentials [--username <user>] [--password <pass>]")
	fmt.Println()
	fmt.Println("SERVE FLAGS:")
	fmt.Println("  --config <path>       Path to config file (default: ~/.config/ssa/config.json)")
	fmt.Println("  --env <environment>   Override environment (development/production)")
	fmt.Println("  --db <path>           Database file path (overrides config)")
	fmt.Println("  --port <port>         Server port (overrides config)")
	fmt.Println("  --verbose             Enable verbose logging")
	fmt.Println("  --quiet               Quiet mode (errors only)")
	fmt.Println()
	fmt.Println("INIT FLAGS:")
	fmt.Println("  --username <user>     Dashboard username (required)")
	fmt.Println("  --password <pass>     Dashboard password (required)")
	fmt.Println("  --domain <url>        Public URL of the server (default: http://localhost)")
	fmt.Println("  --port <port>         Server port (default: 4698)")
	fmt.Println("  --env <environment>   development or production (default: development)")
	fmt.Println("  --config <path>       Where to write the config file")
	fmt.Println()
	fmt.Println("OTHER:")
	fmt.Println("  --version             Show version and exit")
	fmt.Println("  --help, -h            Show this help")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # First run")
	fmt.Println("  ssa-server init --username admin --password 'a-long-passphrase'")
	fmt.Println()
	fmt.Println("  # Start server with default config")
	fmt.Println("  ssa-server")
	fmt.Println()
	fmt.Println("  # Production on a custom port")
	fmt.Println("  ssa-server --env production --port 8080")
	fmt.Println()
	fmt.Println("  # Rotate the password")
	fmt.Println("  ssa-server set-credentials --password 'another-passphrase'")
	fmt.Println()
	fmt.Println("Add the tracker to a site with:")
	fmt.Println(`  <script defer src="https://your-server/script.js"></script>`)
}
