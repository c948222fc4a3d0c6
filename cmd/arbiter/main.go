// Command arbiter runs the multi-model decision service and its audit
// tooling.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run dispatches subcommands. With no subcommand, or only flags, it serves.
func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "history":
		return runHistory(args, stdout)
	case "analyze":
		return runAnalyze(args, stdout)
	case "verify":
		return runVerify(args, stdout)
	case "version":
		_, err := fmt.Fprintln(stdout, "arbiter", version)
		return err
	case "help", "-h", "--help":
		printHelp(stdout)
		return nil
	default:
		printHelp(os.Stderr)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: arbiter [command] [options]

Commands:
  serve      Run the HTTP, WebSocket, MCP and NATS endpoints (default)
  history    Print the provenance records of one decision
  analyze    Aggregate outcome and provider statistics
  verify     Walk the provenance hash chain
  version    Print the build version
  help       Show this help message

Examples:
  arbiter serve -c arbiter.yaml --dry-run
  arbiter history -id 7f3c2a
  arbiter analyze -days 30 -json
  arbiter verify -provenance data/provenance.jsonl
`)
}
