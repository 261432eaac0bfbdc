package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/sdk"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
)

// runRulesCmd implements `protect-verify rules`. --container and --file
// only decode; --fetch also checks the SuperAdmin signatures.
func runRulesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rules", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		container  string
		file       string
		fetch      bool
		configPath string
	)
	cmd.StringVar(&container, "container", "", "Base64 rules container")
	cmd.StringVar(&file, "file", "", "File holding the rules container, base64 or raw")
	cmd.BoolVar(&fetch, "fetch", false, "Fetch and verify the rules container from the API")
	cmd.StringVar(&configPath, "config", "", "Path to the YAML config, used with --fetch")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}

	sources := 0
	for _, set := range []bool{container != "", file != "", fetch} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --container, --file or --fetch is required")
		return exitRuntimeError
	}

	var (
		decoded *rules.DecodedRulesContainer
		err     error
	)
	switch {
	case container != "":
		decoded, err = rules.Decode(container)
	case file != "":
		decoded, err = decodeFile(file)
	default:
		decoded, err = fetchRules(configPath, stderr)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if verrors.IsIntegrity(err) {
			return exitVerifyFailed
		}
		return exitRuntimeError
	}

	data, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntimeError
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return exitOK
}

// decodeFile reads a container stored as base64 text or as raw bytes.
func decodeFile(path string) (*rules.DecodedRulesContainer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if raw, err := rules.DecodeBase64(string(bytes.TrimSpace(data))); err == nil {
		return rules.DecodeBytes(raw)
	}
	return rules.DecodeBytes(data)
}

func fetchRules(configPath string, stderr io.Writer) (*rules.DecodedRulesContainer, error) {
	cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	client, err := sdk.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return client.RulesContainer(ctx)
}
