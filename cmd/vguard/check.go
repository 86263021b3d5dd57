package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cgast/vguard/pkg/verify"
)

type checkOptions struct {
	session string
	guards  []string
	context string
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Verify one candidate read from a file or stdin",
		Long: `Verify a single JSON candidate and print the verdict as JSON.

The candidate's "type" field selects its route (tool_call, retrieval_node,
synthesis_response). The command exits with status 2 when the candidate
is not verified.

Examples:
  echo '{"type":"tool_call","tool_name":"exec","arguments":{}}' | vguard check
  vguard check response.json --guards content_safety --session s1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.session, "session", "", "session whose running cost is checked")
	cmd.Flags().StringSliceVar(&opts.guards, "guards", nil, "run these guards instead of the routed set")
	cmd.Flags().StringVar(&opts.context, "context", "", "extra verification context as a JSON object")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string, opts checkOptions) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read candidate: %w", err)
	}
	candidate, err := verify.ParseCandidate(data)
	if err != nil {
		return err
	}

	var extra verify.Context
	if opts.context != "" {
		if err := json.Unmarshal([]byte(opts.context), &extra); err != nil {
			return fmt.Errorf("parse --context: %w", err)
		}
	}

	deps, err := wire(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDeps(deps, deps.Logger)

	rec, err := deps.Handler.Verify(cmd.Context(), opts.session, candidate, extra, opts.guards...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec.Verdict); err != nil {
		return err
	}
	if !rec.Verdict.Verified {
		return &exitError{code: exitCodeBlocked, msg: "blocked: " + rec.Verdict.BlockReason}
	}
	return nil
}
