// Package setup turns a loaded configuration into a ready verification
// stack: guards, routing table, spend ledger, event bus and middleware.
package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cgast/vguard/internal/config"
	"github.com/cgast/vguard/pkg/domain"
	"github.com/cgast/vguard/pkg/events"
	"github.com/cgast/vguard/pkg/guards"
	"github.com/cgast/vguard/pkg/ledger"
	"github.com/cgast/vguard/pkg/middleware"
	"github.com/cgast/vguard/pkg/verify"

	// Reference engines register the tax, finance, ISO 20022 and legal
	// providers used by the domain guards.
	_ "github.com/cgast/vguard/pkg/domain/refengine"
)

// Dependencies is the wired verification stack.
type Dependencies struct {
	Pipeline *verify.Pipeline
	Handler  *middleware.Handler
	Ledger   ledger.Ledger
	Bus      *events.MemoryBus
	Logger   zerolog.Logger
}

// Close releases the ledger.
func (d *Dependencies) Close() error {
	if d.Ledger == nil {
		return nil
	}
	return d.Ledger.Close()
}

// Wire validates cfg and builds the stack. Relative schema files resolve
// against baseDir.
func Wire(ctx context.Context, cfg config.Config, baseDir string, log zerolog.Logger) (*Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := BuildPipeline(cfg, baseDir, log)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	l, err := OpenLedger(ctx, cfg.Ledger, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	bus := events.NewMemoryBus()
	opts := []middleware.Option{
		middleware.WithBlocking(cfg.Middleware.Blocking),
		middleware.WithRetrieval(cfg.Middleware.VerifyRetrieval),
		middleware.WithSynthesis(cfg.Middleware.VerifySynthesis),
		middleware.WithHistoryLimit(cfg.Middleware.HistoryLimit),
		middleware.WithEvents(bus),
		middleware.WithLogger(log),
		middleware.WithMetrics(cfg.Metrics.Enabled),
	}
	if l != nil {
		opts = append(opts, middleware.WithLedger(l))
	}

	log.Info().
		Strs("guards", pipeline.Names()).
		Str("ledger", cfg.Ledger.Backend).
		Bool("blocking", cfg.Middleware.Blocking).
		Msg("Verification stack ready")

	return &Dependencies{
		Pipeline: pipeline,
		Handler:  middleware.New(pipeline, opts...),
		Ledger:   l,
		Bus:      bus,
		Logger:   log,
	}, nil
}

// OpenLedger returns the configured spend ledger, or nil for backend "none".
func OpenLedger(ctx context.Context, cfg config.LedgerConfig, log zerolog.Logger) (ledger.Ledger, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return ledger.NewMemoryLedger(), nil
	case "bolt":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create ledger dir: %w", err)
			}
		}
		return ledger.NewBoltLedger(cfg.Path)
	case "redis":
		return ledger.NewRedisLedger(ctx, ledger.RedisOptions{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			TTL:        cfg.Redis.TTL,
		}, log)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// builtin guards may be switched off; routes naming them then skip them.
var builtin = map[string]bool{
	guards.ToolCallName:      true,
	guards.ContentSafetyName: true,
	guards.NumericName:       true,
	guards.PathSandboxName:   true,
}

// BuildPipeline constructs every enabled guard and the routing table.
//
// Routes from the config are applied as written. Guards the config
// enables but never names in a route are placed automatically: tax on
// the tools it understands, tool-scoped schemas on their tools, and
// everything else on every type route and the fallback.
func BuildPipeline(cfg config.Config, baseDir string, log zerolog.Logger) (*verify.Pipeline, error) {
	b := &pipelineBuilder{router: verify.NewRouter(), log: log}

	if err := b.builtins(cfg.Guards); err != nil {
		return nil, err
	}
	if err := b.custom(cfg.Guards, baseDir); err != nil {
		return nil, err
	}
	if err := b.domains(cfg.Domains); err != nil {
		return nil, err
	}

	referenced := make(map[string]bool)
	routes := make(map[string][]string, len(cfg.Routes))
	for typ, names := range cfg.Routes {
		routes[typ] = b.enabled(names, referenced)
	}
	toolRoutes := make(map[string][]string, len(cfg.ToolRoutes))
	for tool, names := range cfg.ToolRoutes {
		toolRoutes[tool] = b.enabled(names, referenced)
	}
	fallback := b.enabled(cfg.Fallback, referenced)

	for _, p := range b.placements {
		if referenced[p.name] {
			continue
		}
		if len(p.tools) > 0 {
			for _, tool := range p.tools {
				toolRoutes[tool] = append(toolRoutes[tool], p.name)
			}
			continue
		}
		for typ := range routes {
			routes[typ] = append(routes[typ], p.name)
		}
		fallback = append(fallback, p.name)
	}

	for typ, names := range routes {
		b.router.Route(typ, names...)
	}
	for tool, names := range toolRoutes {
		b.router.RouteTool(tool, names...)
	}
	b.router.Fallback(fallback...)

	engine := verify.NewEngine(verify.WithBlockReason(verify.BlockReasonPolicy(cfg.BlockReason)))
	return b.router.Build(engine)
}

type placement struct {
	name  string
	tools []string
}

type pipelineBuilder struct {
	router     *verify.Router
	log        zerolog.Logger
	registered map[string]bool
	placements []placement
}

func (b *pipelineBuilder) register(g verify.Guard, auto bool, tools ...string) error {
	if err := b.router.Register(g); err != nil {
		return err
	}
	if b.registered == nil {
		b.registered = make(map[string]bool)
	}
	b.registered[g.Name()] = true
	if auto {
		b.placements = append(b.placements, placement{name: g.Name(), tools: tools})
	}
	b.log.Debug().Str("guard", g.Name()).Msg("Guard registered")
	return nil
}

// enabled drops disabled built-in guards from a route and marks the
// remaining names as referenced. Unknown names are kept so Build reports them.
func (b *pipelineBuilder) enabled(names []string, referenced map[string]bool) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if builtin[name] && !b.registered[name] {
			b.log.Debug().Str("guard", name).Msg("Skipping disabled guard in route")
			continue
		}
		referenced[name] = true
		out = append(out, name)
	}
	return out
}

func (b *pipelineBuilder) builtins(cfg config.GuardsConfig) error {
	if cfg.ToolCall.Enabled {
		var opts []guards.ToolCallOption
		if len(cfg.ToolCall.BlockedTools) > 0 {
			opts = append(opts, guards.WithBlockedTools(cfg.ToolCall.BlockedTools...))
		}
		if len(cfg.ToolCall.DangerousPatterns) > 0 {
			opts = append(opts, guards.WithDangerousPatterns(cfg.ToolCall.DangerousPatterns...))
		}
		if cfg.ToolCall.NoDefaultBlocklist {
			opts = append(opts, guards.WithoutDefaultBlocklist())
		}
		if cfg.ToolCall.NoDefaultPatterns {
			opts = append(opts, guards.WithoutDefaultPatterns())
		}
		g, err := guards.NewToolCallGuard(opts...)
		if err != nil {
			return err
		}
		if err := b.register(g, false); err != nil {
			return err
		}
	}

	if cfg.Safety.Enabled {
		sc := guards.DefaultSafetyConfig()
		sc.CheckPII = cfg.Safety.CheckPII
		sc.PIIAllowList = cfg.Safety.PIIAllowList
		sc.CheckInjection = cfg.Safety.CheckInjection
		sc.InjectionPatterns = cfg.Safety.InjectionPatterns
		sc.CheckBudget = cfg.Safety.CheckBudget
		sc.MaxCost = cfg.Safety.MaxCost
		sc.Fields = cfg.Safety.Fields
		sc.TotalKey = middleware.ContextTotalKey
		if cfg.Safety.BudgetMode != "" {
			sc.BudgetMode = guards.BudgetMode(cfg.Safety.BudgetMode)
		}
		g, err := guards.NewContentSafetyGuard(sc)
		if err != nil {
			return err
		}
		if err := b.register(g, false); err != nil {
			return err
		}
	}

	if cfg.Numeric.Enabled {
		opts := []guards.NumericOption{guards.WithTolerance(cfg.Numeric.Tolerance)}
		if cfg.Numeric.TotalField != "" {
			opts = append(opts, guards.WithTotalField(cfg.Numeric.TotalField))
		}
		if cfg.Numeric.BaseField != "" {
			opts = append(opts, guards.WithBaseField(cfg.Numeric.BaseField))
		}
		if len(cfg.Numeric.Components) > 0 {
			components := make([]guards.Component, 0, len(cfg.Numeric.Components))
			for _, c := range cfg.Numeric.Components {
				sign := 1.0
				if c.Sign == "-" {
					sign = -1
				}
				components = append(components, guards.Component{Field: c.Field, Sign: sign})
			}
			opts = append(opts, guards.WithComponents(components...))
		}
		g, err := guards.NewNumericGuard(opts...)
		if err != nil {
			return err
		}
		if err := b.register(g, false); err != nil {
			return err
		}
	}

	if cfg.PathSandbox.Enabled {
		g, err := guards.NewPathSandboxGuard(guards.PathSandboxConfig{
			AllowedPaths: cfg.PathSandbox.AllowedPaths,
			DeniedPaths:  cfg.PathSandbox.DeniedPaths,
			MaxWriteSize: cfg.PathSandbox.MaxWriteSize,
			Root:         cfg.PathSandbox.Root,
			PathKeys:     cfg.PathSandbox.PathKeys,
			SizeKeys:     cfg.PathSandbox.SizeKeys,
		})
		if err != nil {
			return err
		}
		if err := b.register(g, true); err != nil {
			return err
		}
	}
	return nil
}

func (b *pipelineBuilder) custom(cfg config.GuardsConfig, baseDir string) error {
	for _, sc := range cfg.Schemas {
		raw := []byte(sc.Schema)
		if sc.File != "" {
			path := sc.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("schema %s: %w", sc.Name, err)
			}
			raw = data
		}
		var opts []guards.SchemaOption
		if sc.Field != "" {
			opts = append(opts, guards.WithSchemaField(sc.Field))
		}
		if len(sc.Tools) > 0 {
			opts = append(opts, guards.WithSchemaTools(sc.Tools...))
		}
		g, err := guards.NewSchemaGuard(sc.Name, raw, opts...)
		if err != nil {
			return err
		}
		if err := b.register(g, true, sc.Tools...); err != nil {
			return err
		}
	}

	for _, ec := range cfg.Expressions {
		var opts []guards.ExpressionOption
		if ec.Message != "" {
			opts = append(opts, guards.WithMessage(ec.Message))
		}
		if ec.Severity != "" {
			opts = append(opts, guards.WithExpressionSeverity(verify.Severity(ec.Severity)))
		}
		if len(ec.Types) > 0 {
			opts = append(opts, guards.WithExpressionTypes(ec.Types...))
		}
		g, err := guards.NewExpressionGuard(ec.Name, ec.Expr, opts...)
		if err != nil {
			return err
		}
		if err := b.register(g, true); err != nil {
			return err
		}
	}

	for _, ac := range cfg.Assertions {
		assertions := make([]guards.Assertion, len(ac.Assertions))
		for i, a := range ac.Assertions {
			assertions[i] = guards.Assertion{Type: a.Type, Target: a.Target, Expected: a.Expected, Message: a.Message}
		}
		g, err := guards.NewAssertionGuard(ac.Name, assertions, ac.Types...)
		if err != nil {
			return err
		}
		if err := b.register(g, true); err != nil {
			return err
		}
	}
	return nil
}

func (b *pipelineBuilder) domains(cfg config.DomainsConfig) error {
	if cfg.Tax {
		g, err := domain.NewTaxGuard()
		if err != nil {
			return err
		}
		if err := b.register(g, true, g.Tools()...); err != nil {
			return err
		}
	}

	if cfg.Finance {
		var opts []domain.Option
		if !cfg.ISO {
			opts = append(opts, domain.WithoutISO())
		}
		g, err := domain.NewFinanceGuard(opts...)
		if err != nil {
			return err
		}
		if !g.ISOActive() {
			b.log.Warn().Str("capability", domain.KindISO).Msg("ISO 20022 verification not active")
		}
		if err := b.register(g, true); err != nil {
			return err
		}
	}

	if cfg.Legal.Enabled {
		var opts []domain.Option
		if cfg.Legal.NDAMaxYears > 0 {
			opts = append(opts, domain.WithNDAMaxYears(cfg.Legal.NDAMaxYears))
		}
		if len(cfg.Legal.RequiredClauses) > 0 {
			opts = append(opts, domain.WithRequiredClauses(cfg.Legal.RequiredClauses...))
		}
		g, err := domain.NewLegalGuard(opts...)
		if err != nil {
			return err
		}
		if err := b.register(g, true); err != nil {
			return err
		}
	}
	return nil
}
