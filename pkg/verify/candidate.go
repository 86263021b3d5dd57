package verify

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Candidate types produced by adapters.
const (
	TypeToolCall          = "tool_call"
	TypeRetrievalNode     = "retrieval_node"
	TypeSynthesisResponse = "synthesis_response"
)

// Candidate is the structured record being verified: a tool call, a
// retrieved item or a synthesized response. It is an open record tagged
// by its "type" field. Absent fields mean "not applicable".
type Candidate map[string]any

// Context carries cross-call state such as session ids and running cost.
// The engine passes it to every guard unchanged.
type Context map[string]any

// Type returns the candidate's discriminator, or "" when absent.
func (c Candidate) Type() string {
	return c.String("type")
}

// String returns the string field key, or "" when absent or not a string.
func (c Candidate) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Map returns the mapping field key, or nil when absent or not a mapping.
func (c Candidate) Map(key string) map[string]any {
	return AsMap(c[key])
}

// Lookup walks nested mappings along path. It reports false as soon as a
// segment is missing or the value at that point is not a mapping.
func (c Candidate) Lookup(path ...string) (any, bool) {
	return lookup(map[string]any(c), path)
}

// Lookup walks nested mappings along path.
func (c Context) Lookup(path ...string) (any, bool) {
	return lookup(map[string]any(c), path)
}

// ParseCandidate decodes a JSON object into a Candidate. Numbers decode as
// float64, matching what guards see from JSON-speaking adapters.
func ParseCandidate(data []byte) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c == nil {
		c = Candidate{}
	}
	return c, nil
}

// AsMap converts the common mapping shapes found in decoded payloads.
func AsMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Candidate:
		return map[string]any(m)
	case Context:
		return map[string]any(m)
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out
	}
	return nil
}

func lookup(m map[string]any, path []string) (any, bool) {
	if len(path) == 1 && strings.Contains(path[0], ".") {
		path = strings.Split(path[0], ".")
	}
	var cur any = m
	for _, seg := range path {
		next := AsMap(cur)
		if next == nil {
			return nil, false
		}
		v, ok := next[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ToFloat converts Go numeric kinds, json.Number and numeric strings.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", n)
		}
		return f, nil
	case bool, nil:
		return 0, fmt.Errorf("%v is not numeric", v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("%T is not numeric", v)
}
