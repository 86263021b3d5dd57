package setup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgast/vguard/internal/config"
	"github.com/cgast/vguard/pkg/domain"
	"github.com/cgast/vguard/pkg/guards"
	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"
)

func routeFor(p *verify.Pipeline, kind, key string) []string {
	for _, r := range p.Routes() {
		if r.Kind == kind && r.Key == key {
			return r.Guards
		}
	}
	return nil
}

func TestBuildPipelineDefaults(t *testing.T) {
	p, err := BuildPipeline(config.DefaultConfig(), "", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{guards.ToolCallName, guards.ContentSafetyName, guards.NumericName}, p.Names())
	assert.Equal(t, []string{guards.ToolCallName, guards.ContentSafetyName}, routeFor(p, "type", verify.TypeToolCall))
	assert.Equal(t, []string{guards.ContentSafetyName, guards.NumericName}, routeFor(p, "fallback", ""))

	v := p.Verify(verify.Candidate{
		"type":   verify.TypeSynthesisResponse,
		"output": map[string]any{"subtotal": 100.0, "tax": 8.0, "total": 120.0},
	}, nil)
	assert.False(t, v.Verified)
	assert.Contains(t, v.BlockReason, "total mismatch")
}

func TestBuildPipelineDefaultsIgnoreStructuredFields(t *testing.T) {
	p, err := BuildPipeline(config.DefaultConfig(), "", zerolog.Nop())
	require.NoError(t, err)

	v := p.Verify(verify.Candidate{
		"type":      verify.TypeToolCall,
		"tool_name": "send_email",
		"arguments": map[string]any{"to": "alice@example.com"},
	}, nil)
	assert.True(t, v.Verified, v.BlockReason)

	v = p.Verify(verify.Candidate{
		"type":     verify.TypeRetrievalNode,
		"content":  "Quarterly report.",
		"metadata": map[string]any{"source": "10.0.0.1", "author": "bob@corp.com"},
	}, nil)
	assert.True(t, v.Verified, v.BlockReason)

	v = p.Verify(verify.Candidate{"type": verify.TypeRetrievalNode, "content": "write to bob@corp.com"}, nil)
	assert.False(t, v.Verified)
}

func TestBuildPipelineDisabledBuiltins(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Guards.Numeric.Enabled = false
	cfg.Guards.ToolCall.Enabled = false

	p, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{guards.ContentSafetyName}, p.Names())
	assert.Equal(t, []string{guards.ContentSafetyName}, routeFor(p, "type", verify.TypeToolCall))
}

func TestBuildPipelineUnknownGuardInRoute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Routes["retrieval_node"] = []string{"nonexistent"}

	_, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guard not found: nonexistent")
}

func TestBuildPipelineCustomGuards(t *testing.T) {
	dir := t.TempDir()
	schema := `{"type":"object","required":["amount"],"properties":{"amount":{"type":"number","maximum":500}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refund.json"), []byte(schema), 0644))

	cfg := config.DefaultConfig()
	cfg.Guards.Schemas = []config.SchemaConfig{{Name: "refund", File: "refund.json", Tools: []string{"issue_refund"}}}
	cfg.Guards.Expressions = []config.ExpressionConfig{{
		Name:    "no_weekend_refunds",
		Expr:    `!has(arguments.weekend) || arguments.weekend == false`,
		Message: "refunds are not issued on weekends",
		Types:   []string{verify.TypeToolCall},
	}}
	cfg.Guards.Assertions = []config.AssertionsConfig{{
		Name:       "cites_source",
		Types:      []string{verify.TypeSynthesisResponse},
		Assertions: []config.AssertionConfig{{Type: "contains", Target: "content", Expected: "[source]"}},
	}}

	p, err := BuildPipeline(cfg, dir, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"schema:refund"}, routeFor(p, "tool", "issue_refund"))
	assert.Contains(t, routeFor(p, "type", verify.TypeToolCall), "no_weekend_refunds")
	assert.Contains(t, routeFor(p, "fallback", ""), "cites_source")

	v := p.Verify(verify.Candidate{
		"type":      verify.TypeToolCall,
		"tool_name": "issue_refund",
		"arguments": map[string]any{"amount": 900.0},
	}, nil)
	assert.False(t, v.Verified)
	r, ok := v.Result("schema:refund")
	require.True(t, ok)
	assert.False(t, r.Passed)

	v = p.Verify(verify.Candidate{"type": verify.TypeSynthesisResponse, "content": "Revenue grew 4% [source]"}, nil)
	assert.True(t, v.Verified, v.String())
}

func TestBuildPipelinePathSandbox(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Guards.PathSandbox = config.PathSandboxConfig{
		Enabled:      true,
		Root:         t.TempDir(),
		AllowedPaths: []string{"workspace"},
	}

	p, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Contains(t, routeFor(p, "type", verify.TypeToolCall), guards.PathSandboxName)

	v := p.Verify(verify.Candidate{
		"type":      verify.TypeToolCall,
		"tool_name": "read_file",
		"arguments": map[string]any{"path": "/etc/shadow"},
	}, nil)
	assert.False(t, v.Verified)
	r, ok := v.Result(guards.PathSandboxName)
	require.True(t, ok)
	assert.Contains(t, r.Message, "not under any allowed path")
}

func TestBuildPipelineSchemaFileMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Guards.Schemas = []config.SchemaConfig{{Name: "refund", File: "missing.json"}}
	_, err := BuildPipeline(cfg, t.TempDir(), zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildPipelineDomains(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains.Tax = true
	cfg.Domains.Finance = true
	cfg.Domains.Legal.Enabled = true

	p, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Subset(t, p.Names(), []string{domain.TaxGuardName, domain.FinanceGuardName, domain.LegalGuardName})

	tax, ok := p.Guard(domain.TaxGuardName)
	require.True(t, ok)
	for _, tool := range tax.(*domain.TaxGuard).Tools() {
		assert.Contains(t, routeFor(p, "tool", tool), domain.TaxGuardName)
	}
	assert.NotContains(t, routeFor(p, "type", verify.TypeToolCall), domain.TaxGuardName)
	assert.Contains(t, routeFor(p, "type", verify.TypeSynthesisResponse), domain.LegalGuardName)
	assert.Contains(t, routeFor(p, "fallback", ""), domain.FinanceGuardName)

	fin, _ := p.Guard(domain.FinanceGuardName)
	assert.True(t, fin.(*domain.FinanceGuard).ISOActive())
}

func TestBuildPipelineDomainRoutedExplicitly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains.Legal.Enabled = true
	cfg.Routes["contract_review"] = []string{domain.LegalGuardName}

	p, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{domain.LegalGuardName}, routeFor(p, "type", "contract_review"))
	assert.NotContains(t, routeFor(p, "fallback", ""), domain.LegalGuardName)
}

func TestBuildPipelineFinanceWithoutISO(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains.Finance = true
	cfg.Domains.ISO = false

	p, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	fin, _ := p.Guard(domain.FinanceGuardName)
	assert.False(t, fin.(*domain.FinanceGuard).ISOActive())
}

func TestBuildPipelineBlockReasonAll(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BlockReason = "all"
	cfg.Guards.Safety.Fields = []string{"arguments"}

	p, err := BuildPipeline(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	v := p.Verify(verify.Candidate{
		"type":      verify.TypeToolCall,
		"tool_name": "exec",
		"arguments": map[string]any{"note": "email me at a@b.co"},
	}, nil)
	assert.False(t, v.Verified)
	assert.Contains(t, v.BlockReason, "blocked tool: exec")
	assert.Contains(t, v.BlockReason, "PII detected: email")
}

func TestOpenLedger(t *testing.T) {
	ctx := context.Background()

	l, err := OpenLedger(ctx, config.LedgerConfig{Backend: "none"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = OpenLedger(ctx, config.LedgerConfig{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ledger.MemoryLedger{}, l)

	path := filepath.Join(t.TempDir(), "nested", "spend.db")
	l, err = OpenLedger(ctx, config.LedgerConfig{Backend: "bolt", Path: path}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ledger.BoltLedger{}, l)
	require.NoError(t, l.Close())

	_, err = OpenLedger(ctx, config.LedgerConfig{Backend: "etcd"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestWire(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Guards.Safety.CheckBudget = true
	cfg.Guards.Safety.MaxCost = 1.0

	deps, err := Wire(context.Background(), cfg, "", zerolog.Nop())
	require.NoError(t, err)
	defer deps.Close()

	ctx := context.Background()
	ev := middleware.HostEvent{Type: middleware.EventSynthesize, Session: "s1", Response: "Done.", Usage: &middleware.Usage{Cost: 0.6}}
	require.NoError(t, deps.Handler.OnEventEnd(ctx, ev))

	total, err := deps.Ledger.Total(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, total, 1e-9)

	err = deps.Handler.OnEventEnd(ctx, ev)
	assert.True(t, errors.Is(err, verify.ErrBlocked), "second response exceeds the session budget")
	assert.NotEmpty(t, deps.Bus.History(deps.Handler.History()[0].Timestamp))
}

func TestWireInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "chatty"
	_, err := Wire(context.Background(), cfg, "", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}
