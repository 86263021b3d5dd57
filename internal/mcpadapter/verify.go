// Package mcpadapter exposes verification as MCP tools.
package mcpadapter

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"
)

// VerifyInput is the input schema of the verify_output tool.
type VerifyInput struct {
	Candidate map[string]any `json:"candidate" jsonschema:"output to verify; its type field selects the route (tool_call, retrieval_node, synthesis_response)"`
	Context   map[string]any `json:"context,omitempty" jsonschema:"optional verification context passed to every guard"`
	Guards    []string       `json:"guards,omitempty" jsonschema:"optional guard names run instead of the routed set"`
	Session   string         `json:"session,omitempty" jsonschema:"optional session whose running cost is checked"`
}

// VerifyOutput is the structured result of verify_output.
type VerifyOutput struct {
	RecordID string         `json:"record_id"`
	Verdict  verify.Verdict `json:"verdict"`
}

// ListGuardsInput is the (empty) input schema of list_guards.
type ListGuardsInput struct{}

// ListGuardsOutput lists registered guards and the routing table.
type ListGuardsOutput struct {
	Guards []string           `json:"guards"`
	Routes []verify.RouteInfo `json:"routes"`
}

// NewVerifyHandler returns the verify_output tool handler.
// Pass the returned function to mcp.AddTool.
func NewVerifyHandler(h *middleware.Handler) func(context.Context, *mcp.CallToolRequest, VerifyInput) (*mcp.CallToolResult, VerifyOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VerifyInput) (*mcp.CallToolResult, VerifyOutput, error) {
		if input.Candidate == nil {
			return nil, VerifyOutput{}, errors.New("candidate is required")
		}
		rec, err := h.Verify(ctx, input.Session, verify.Candidate(input.Candidate), verify.Context(input.Context), input.Guards...)
		if err != nil {
			return nil, VerifyOutput{}, err
		}
		return nil, VerifyOutput{RecordID: rec.ID, Verdict: rec.Verdict}, nil
	}
}

// NewListGuardsHandler returns the list_guards tool handler.
func NewListGuardsHandler(p *verify.Pipeline) func(context.Context, *mcp.CallToolRequest, ListGuardsInput) (*mcp.CallToolResult, ListGuardsOutput, error) {
	return func(context.Context, *mcp.CallToolRequest, ListGuardsInput) (*mcp.CallToolResult, ListGuardsOutput, error) {
		return nil, ListGuardsOutput{Guards: p.Names(), Routes: p.Routes()}, nil
	}
}

// NewServer creates an MCP server carrying the verification tools.
func NewServer(version string, h *middleware.Handler, p *verify.Pipeline) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "vguard",
			Version: version,
		}, nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "verify_output",
		Description: "Verify an LLM output (tool call, retrieved node or response) against the configured guards and return the verdict",
	}, NewVerifyHandler(h))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_guards",
		Description: "List the registered guards and the routing table",
	}, NewListGuardsHandler(p))
	return server
}
