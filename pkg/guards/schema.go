package guards

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cgast/vguard/pkg/verify"
)

// SchemaOption configures a SchemaGuard.
type SchemaOption func(*SchemaGuard)

// WithSchemaField selects the candidate path validated against the schema.
func WithSchemaField(path string) SchemaOption {
	return func(g *SchemaGuard) { g.field = path }
}

// WithSchemaTools restricts the guard to tool calls naming one of tools.
func WithSchemaTools(tools ...string) SchemaOption {
	return func(g *SchemaGuard) {
		for _, t := range tools {
			g.tools[t] = true
		}
	}
}

// SchemaGuard validates one candidate field against a JSON Schema
// (draft 2020-12) compiled at construction.
type SchemaGuard struct {
	name   string
	field  string
	tools  map[string]bool
	schema *jsonschema.Schema
}

// NewSchemaGuard compiles schemaJSON. The guard is named "schema:<name>".
func NewSchemaGuard(name string, schemaJSON []byte, opts ...SchemaOption) (*SchemaGuard, error) {
	g := &SchemaGuard{
		name:  "schema:" + name,
		field: "arguments",
		tools: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if name == "" {
		return nil, verify.Configf("schema", "schema guard needs a name")
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://vguard.schemas.local/%s.schema.json", name)
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, &verify.ConfigError{Guard: g.name, Reason: "schema load failed", Err: err}
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, &verify.ConfigError{Guard: g.name, Reason: "schema compile failed", Err: err}
	}
	g.schema = compiled
	return g, nil
}

func (g *SchemaGuard) Name() string { return g.name }

// Check validates the configured field. An absent field passes.
func (g *SchemaGuard) Check(candidate verify.Candidate, _ verify.Context) verify.CheckResult {
	if len(g.tools) > 0 && !g.tools[candidate.String("tool_name")] {
		return verify.Pass(g.name, "not applicable")
	}
	raw, ok := candidate.Lookup(g.field)
	if !ok {
		return verify.Pass(g.name, fmt.Sprintf("no %s to validate", g.field))
	}

	doc, err := jsonValue(decodeArguments(raw))
	if err != nil {
		return verify.Fail(g.name, verify.SeverityError,
			fmt.Sprintf("%s: %s is not JSON-encodable: %v", g.name, g.field, err)).
			WithDetail("field", g.field)
	}
	if err := g.schema.Validate(doc); err != nil {
		leaves := schemaErrors(err)
		msg := err.Error()
		if len(leaves) > 0 {
			msg = leaves[0]
		}
		return verify.Fail(g.name, verify.SeverityError, fmt.Sprintf("%s: %s", g.name, msg)).
			WithDetails(map[string]any{"field": g.field, "errors": leaves})
	}
	return verify.Pass(g.name, fmt.Sprintf("%s matches schema", g.field))
}

// jsonValue normalizes v to the shapes the validator expects by
// round-tripping it through encoding/json.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaErrors flattens a validation error tree into "<location>: <message>" lines.
func schemaErrors(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
