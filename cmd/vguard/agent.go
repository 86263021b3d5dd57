package main

import (
	"github.com/spf13/cobra"

	"github.com/cgast/vguard/pkg/events"
	"github.com/cgast/vguard/pkg/protocol"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Serve verification over JSON-RPC 2.0 on stdin/stdout",
		Long: `Read one JSON-RPC 2.0 request per line from stdin and write one
response per line to stdout. Logs go to stderr.

Methods: verify, event, guards.list, history.summary, ledger.total.`,
		Args: cobra.NoArgs,
		RunE: runAgent,
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	deps, err := wire(ctx)
	if err != nil {
		return err
	}
	defer closeDeps(deps, deps.Logger)

	h := protocol.NewHandler()
	protocol.RegisterMethods(h, protocol.Service{
		Pipeline: deps.Pipeline,
		Handler:  deps.Handler,
		Ledger:   deps.Ledger,
	})

	deps.Bus.Publish(events.NewEvent(events.EventAgentMessage, map[string]any{
		"message": "agent mode started",
		"methods": h.Methods(),
	}))
	deps.Logger.Info().Strs("methods", h.Methods()).Msg("Agent mode started")

	return h.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
