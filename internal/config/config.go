package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = ".vguard/config.yaml"

// Config represents the runtime configuration from .vguard/config.yaml.
type Config struct {
	LogLevel    string              `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	BlockReason string              `yaml:"block_reason" validate:"oneof=first all"`
	Middleware  MiddlewareConfig    `yaml:"middleware"`
	Ledger      LedgerConfig        `yaml:"ledger"`
	Metrics     MetricsConfig       `yaml:"metrics"`
	Guards      GuardsConfig        `yaml:"guards"`
	Routes      map[string][]string `yaml:"routes"`
	ToolRoutes  map[string][]string `yaml:"tool_routes"`
	Fallback    []string            `yaml:"fallback"`
	Domains     DomainsConfig       `yaml:"domains"`
}

// MiddlewareConfig controls how host events are verified.
type MiddlewareConfig struct {
	Blocking        bool `yaml:"blocking"`
	VerifyRetrieval bool `yaml:"verify_retrieval"`
	VerifySynthesis bool `yaml:"verify_synthesis"`
	HistoryLimit    int  `yaml:"history_limit" validate:"gte=0"`
}

// LedgerConfig selects the spend ledger backend.
type LedgerConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=none memory bolt redis"`
	Path    string      `yaml:"path" validate:"required_if=Backend bolt"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis ledger settings.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db" validate:"gte=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// GuardsConfig configures the built-in guards.
type GuardsConfig struct {
	ToolCall    ToolCallConfig     `yaml:"tool_call"`
	Safety      SafetyConfig       `yaml:"content_safety"`
	Numeric     NumericConfig      `yaml:"numeric"`
	PathSandbox PathSandboxConfig  `yaml:"path_sandbox"`
	Schemas     []SchemaConfig     `yaml:"schemas" validate:"dive"`
	Expressions []ExpressionConfig `yaml:"expressions" validate:"dive"`
	Assertions  []AssertionsConfig `yaml:"assertions" validate:"dive"`
}

// ToolCallConfig configures the tool-call guard.
type ToolCallConfig struct {
	Enabled            bool     `yaml:"enabled"`
	BlockedTools       []string `yaml:"blocked_tools"`
	DangerousPatterns  []string `yaml:"dangerous_patterns"`
	NoDefaultBlocklist bool     `yaml:"no_default_blocklist"`
	NoDefaultPatterns  bool     `yaml:"no_default_patterns"`
}

// SafetyConfig configures the content safety guard.
type SafetyConfig struct {
	Enabled           bool     `yaml:"enabled"`
	CheckPII          bool     `yaml:"check_pii"`
	PIIAllowList      []string `yaml:"pii_allow_list"`
	CheckInjection    bool     `yaml:"check_injection"`
	InjectionPatterns []string `yaml:"injection_patterns"`
	CheckBudget       bool     `yaml:"check_budget"`
	MaxCost           float64  `yaml:"max_cost" validate:"gte=0"`
	BudgetMode        string   `yaml:"budget_mode" validate:"oneof=candidate cumulative"`
	Fields            []string `yaml:"fields"`
}

// NumericConfig configures the numeric consistency guard.
type NumericConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Tolerance  float64           `yaml:"tolerance" validate:"gte=0"`
	TotalField string            `yaml:"total_field"`
	BaseField  string            `yaml:"base_field"`
	Components []ComponentConfig `yaml:"components" validate:"dive"`
}

// PathSandboxConfig confines filesystem paths in tool arguments.
type PathSandboxConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Root         string   `yaml:"root"`
	AllowedPaths []string `yaml:"allowed_paths"`
	DeniedPaths  []string `yaml:"denied_paths"`
	MaxWriteSize string   `yaml:"max_write_size"`
	PathKeys     []string `yaml:"path_keys"`
	SizeKeys     []string `yaml:"size_keys"`
}

// ComponentConfig is one signed term of the numeric total.
type ComponentConfig struct {
	Field string `yaml:"field" validate:"required"`
	Sign  string `yaml:"sign" validate:"oneof=+ -"`
}

// SchemaConfig defines a JSON Schema guard. Exactly one of File and
// Schema is set.
type SchemaConfig struct {
	Name   string   `yaml:"name" validate:"required"`
	File   string   `yaml:"file" validate:"required_without=Schema,excluded_with=Schema"`
	Schema string   `yaml:"schema"`
	Field  string   `yaml:"field"`
	Tools  []string `yaml:"tools"`
}

// ExpressionConfig defines a CEL expression guard.
type ExpressionConfig struct {
	Name     string   `yaml:"name" validate:"required"`
	Expr     string   `yaml:"expr" validate:"required"`
	Message  string   `yaml:"message"`
	Severity string   `yaml:"severity" validate:"omitempty,oneof=info warning error"`
	Types    []string `yaml:"types"`
}

// AssertionsConfig defines an assertion guard.
type AssertionsConfig struct {
	Name       string            `yaml:"name" validate:"required"`
	Types      []string          `yaml:"types"`
	Assertions []AssertionConfig `yaml:"assertions" validate:"required,min=1,dive"`
}

// AssertionConfig is a single assertion.
type AssertionConfig struct {
	Type     string `yaml:"type" validate:"required"`
	Target   string `yaml:"target"`
	Expected any    `yaml:"expected"`
	Message  string `yaml:"message"`
}

// DomainsConfig enables the engine-backed domain guards.
type DomainsConfig struct {
	Tax     bool        `yaml:"tax"`
	Finance bool        `yaml:"finance"`
	ISO     bool        `yaml:"iso"`
	Legal   LegalConfig `yaml:"legal"`
}

// LegalConfig configures the legal guard.
type LegalConfig struct {
	Enabled         bool     `yaml:"enabled"`
	NDAMaxYears     float64  `yaml:"nda_max_years" validate:"gte=0"`
	RequiredClauses []string `yaml:"required_clauses"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		BlockReason: "first",
		Middleware: MiddlewareConfig{
			Blocking:        true,
			VerifyRetrieval: true,
			VerifySynthesis: true,
			HistoryLimit:    1024,
		},
		Ledger: LedgerConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:       "localhost:6379",
				MaxRetries: 3,
			},
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		Guards: GuardsConfig{
			ToolCall: ToolCallConfig{Enabled: true},
			Safety: SafetyConfig{
				Enabled:        true,
				CheckPII:       true,
				CheckInjection: true,
				BudgetMode:     "cumulative",
			},
			Numeric: NumericConfig{
				Enabled:   true,
				Tolerance: 0.01,
			},
		},
		Routes: map[string][]string{
			"tool_call":          {"tool_call", "content_safety"},
			"retrieval_node":     {"content_safety"},
			"synthesis_response": {"content_safety", "numeric_consistency"},
		},
		Fallback: []string{"content_safety", "numeric_consistency"},
		Domains: DomainsConfig{
			ISO: true,
			Legal: LegalConfig{
				NDAMaxYears: 5,
			},
		},
	}
}

// LoadConfig reads and parses a runtime config YAML file, interpolating
// ${VAR} references from the environment first. Returns the default
// config if the file doesn't exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	interpolated := interpolateEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags and the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	var messages []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		for _, e := range verrs {
			messages = append(messages, formatValidationError(e))
		}
	}

	if c.Ledger.Backend == "redis" && c.Ledger.Redis.Addr == "" {
		messages = append(messages, "ledger.redis.addr is required when ledger.backend is 'redis'")
	}
	if c.Guards.Safety.Enabled && c.Guards.Safety.CheckBudget && c.Guards.Safety.MaxCost <= 0 {
		messages = append(messages, "guards.content_safety.max_cost must be positive when check_budget is set")
	}

	if len(messages) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	fieldPath := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required", "required_if", "required_without":
		return fmt.Sprintf("%s is required", fieldPath)
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", fieldPath, strings.ToLower(e.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", fieldPath, e.Param(), e.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fieldPath, e.Param())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", fieldPath, e.Tag(), e.Value())
	}
}

// formatFieldPath turns "Config.guards.content_safety.max_cost" into
// "guards.content_safety.max_cost".
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}
	result := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		result = append(result, camelToSnake(p))
	}
	return strings.Join(result, ".")
}

func camelToSnake(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' && s[i-1] >= 'a' && s[i-1] <= 'z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
