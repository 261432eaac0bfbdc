package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/observability"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/sdk"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/verrors"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/whitelist"
)

type kind string

const (
	kindAddress kind = "address"
	kindAsset   kind = "asset"
)

// Report is the structured result of one verification.
type Report struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Verified     bool   `json:"verified"`
	Outcome      string `json:"outcome"`
	VerifiedHash string `json:"verifiedHash,omitempty"`
	Step         string `json:"step,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Result       any    `json:"result,omitempty"`
}

// runVerifyCmd implements `protect-verify address|asset`.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed (integrity or whitelist error)
//	2 = runtime error
func runVerifyCmd(k kind, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet(string(k), flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		envelopePath string
		id           string
		configPath   string
		jsonOutput   bool
	)
	cmd.StringVar(&envelopePath, "envelope", "", "Path to the signed envelope JSON")
	cmd.StringVar(&id, "id", "", "Fetch the envelope from the API by id instead")
	cmd.StringVar(&configPath, "config", "", "Path to the YAML config (default: PROTECT_* environment)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	if err := cmd.Parse(args); err != nil {
		return exitRuntimeError
	}
	if (envelopePath == "") == (id == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --envelope or --id is required")
		return exitRuntimeError
	}

	cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: config: %v\n", err)
		return exitRuntimeError
	}
	client, err := sdk.New(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntimeError
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = client.Close(context.Background()) }()

	report := &Report{ID: uuid.NewString(), Kind: string(k)}
	if envelopePath != "" {
		env, rerr := readEnvelope(envelopePath)
		if rerr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: envelope: %v\n", rerr)
			return exitRuntimeError
		}
		err = verifyEnvelope(ctx, client, k, env, report)
	} else {
		err = fetchAndVerify(ctx, client, k, id, report)
	}
	if code, done := finish(report, err, stderr); done {
		return code
	}

	writeReport(report, jsonOutput, stdout)
	if !report.Verified {
		return exitVerifyFailed
	}
	return exitOK
}

// finish folds a verification error into report. It returns done when the
// error is a runtime failure that ends the command without a report.
func finish(report *Report, err error, stderr io.Writer) (int, bool) {
	report.Outcome = observability.Outcome(err)
	if err == nil {
		report.Verified = true
		return 0, false
	}
	if !verrors.IsIntegrity(err) && !verrors.IsWhitelist(err) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntimeError, true
	}
	report.Step = verrors.StepOf(err)
	report.Reason = err.Error()
	report.Result = nil
	return 0, false
}

func verifyEnvelope(ctx context.Context, client *sdk.Client, k kind, env *whitelist.Envelope, report *Report) error {
	switch k {
	case kindAsset:
		res, err := client.VerifyWhitelistedAsset(ctx, env)
		if err == nil {
			report.Result, report.VerifiedHash = res.Asset, res.VerifiedHash
		}
		return err
	default:
		res, err := client.VerifyWhitelistedAddress(ctx, env)
		if err == nil {
			report.Result, report.VerifiedHash = res.Address, res.VerifiedHash
		}
		return err
	}
}

func fetchAndVerify(ctx context.Context, client *sdk.Client, k kind, id string, report *Report) error {
	switch k {
	case kindAsset:
		res, err := client.GetWhitelistedAsset(ctx, id)
		if err == nil {
			report.Result, report.VerifiedHash = res.Asset, res.VerifiedHash
		}
		return err
	default:
		res, err := client.GetWhitelistedAddress(ctx, id)
		if err == nil {
			report.Result, report.VerifiedHash = res.Address, res.VerifiedHash
		}
		return err
	}
}

// readEnvelope accepts a bare envelope or an API response wrapping it in
// "result".
func readEnvelope(path string) (*whitelist.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Result *whitelist.Envelope `json:"result"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Result != nil {
		return wrapped.Result, nil
	}
	var env whitelist.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Metadata.PayloadAsString == "" && env.RulesContainer == "" {
		return nil, errors.New("no envelope found")
	}
	return &env, nil
}

func writeReport(r *Report, jsonOutput bool, stdout io.Writer) {
	if jsonOutput {
		data, _ := json.MarshalIndent(r, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return
	}
	if r.Verified {
		_, _ = fmt.Fprintf(stdout, "PASSED  whitelisted %s verified\n", r.Kind)
		_, _ = fmt.Fprintf(stdout, "Hash:   %s\n", r.VerifiedHash)
	} else {
		_, _ = fmt.Fprintf(stdout, "FAILED  whitelisted %s rejected (%s)\n", r.Kind, r.Outcome)
		_, _ = fmt.Fprintf(stdout, "Step:   %s\n", r.Step)
		_, _ = fmt.Fprintf(stdout, "Reason: %s\n", r.Reason)
	}
	_, _ = fmt.Fprintf(stdout, "Report: %s\n", r.ID)
}
