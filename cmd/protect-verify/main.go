// Command protect-verify verifies signed Protect data from the command line.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/config"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/observability"
)

// Exit codes.
const (
	exitOK           = 0
	exitVerifyFailed = 1
	exitRuntimeError = 2
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitRuntimeError
	}

	switch args[1] {
	case "address":
		return runVerifyCmd(kindAddress, args[2:], stdout, stderr)
	case "asset":
		return runVerifyCmd(kindAsset, args[2:], stdout, stderr)
	case "rules":
		return runRulesCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "protect-verify", observability.Version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitRuntimeError
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: protect-verify <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  address  verify a whitelisted address (--envelope FILE or --id ID)")
	_, _ = fmt.Fprintln(w, "  asset    verify a whitelisted asset (--envelope FILE or --id ID)")
	_, _ = fmt.Fprintln(w, "  rules    decode a rules container (--container B64 | --file FILE | --fetch)")
	_, _ = fmt.Fprintln(w, "  version  print the version")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Exit codes: 0 verified, 1 verification failed, 2 runtime error")
}

// loadConfig reads path, or the PROTECT_* environment when path is empty,
// and installs the configured logger on stderr.
func loadConfig(path string, stderr io.Writer) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}
