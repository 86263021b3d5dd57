package main

import (
	"errors"
	"io"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/cgast/vguard/internal/mcpadapter"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve verification as MCP tools over stdio",
		Long: `Run an MCP server on stdin/stdout exposing the verify_output and
list_guards tools.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	deps, err := wire(ctx)
	if err != nil {
		return err
	}
	defer closeDeps(deps, deps.Logger)

	server := mcpadapter.NewServer(version, deps.Handler, deps.Pipeline)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		// EOF / "server is closing" is expected when stdin closes.
		if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "server is closing") {
			deps.Logger.Debug().Err(err).Msg("MCP server stopped")
			return nil
		}
		return err
	}
	return nil
}
