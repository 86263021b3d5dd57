package middleware

import (
	"github.com/cgast/vguard/pkg/verify"
)

// EventType is the kind of host framework event the handler reacts to.
type EventType string

const (
	EventRetrieve     EventType = "retrieve"
	EventSynthesize   EventType = "synthesize"
	EventFunctionCall EventType = "function_call"
)

// Node is a retrieved document chunk.
type Node struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FunctionCall is a tool invocation proposed by the model. Arguments may
// be a mapping or a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// Usage is the token and cost accounting reported with a response.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// HostEvent is the end of one host framework step. Only the fields
// relevant to Type are set.
type HostEvent struct {
	Type         EventType     `json:"type"`
	ID           string        `json:"id,omitempty"`
	Session      string        `json:"session,omitempty"`
	Nodes        []Node        `json:"nodes,omitempty"`
	Response     string        `json:"response,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// NodeCandidate translates a retrieved node.
func NodeCandidate(n Node) verify.Candidate {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return verify.Candidate{
		"type":     verify.TypeRetrievalNode,
		"content":  n.Text,
		"metadata": metadata,
	}
}

// ResponseCandidate translates a synthesized response. Usage, when
// reported, is carried so budget checks can see the cost.
func ResponseCandidate(response string, usage *Usage) verify.Candidate {
	c := verify.Candidate{
		"type":    verify.TypeSynthesisResponse,
		"content": response,
	}
	if usage != nil {
		c["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"cost":              usage.Cost,
		}
	}
	return c
}

// FunctionCallCandidate translates a function call. A missing name
// becomes "unknown" and missing arguments an empty mapping.
func FunctionCallCandidate(fc FunctionCall) verify.Candidate {
	name := fc.Name
	if name == "" {
		name = "unknown"
	}
	var args any = fc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return verify.Candidate{
		"type":      verify.TypeToolCall,
		"tool_name": name,
		"arguments": args,
	}
}
