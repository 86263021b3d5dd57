package protocol

import (
	"encoding/json"

	"github.com/cgast/vguard/pkg/verify"
)

// JSON-RPC 2.0 message types for agent mode communication.

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"` // string or int; nil for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-specific error codes.
const (
	CodeGuardNotFound     = -32000
	CodeVerifyFailed      = -32001 // data carries the verdict
	CodeInvalidCandidate  = -32002
	CodeLedgerUnavailable = -32003
)

// Method constants for all supported JSON-RPC methods.
const (
	MethodVerify         = "verify"
	MethodEvent          = "event"
	MethodGuardsList     = "guards.list"
	MethodHistorySummary = "history.summary"
	MethodLedgerTotal    = "ledger.total"
)

// NewResponse creates a successful response.
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// VerifyParams holds parameters for the "verify" method. Guards, when
// set, replaces the routed guard set with the named guards.
type VerifyParams struct {
	Candidate map[string]any `json:"candidate"`
	Context   map[string]any `json:"context,omitempty"`
	Guards    []string       `json:"guards,omitempty"`
	Session   string         `json:"session,omitempty"`
}

// VerifyResult holds the result of a "verify" call.
type VerifyResult struct {
	RecordID string         `json:"record_id"`
	Verdict  verify.Verdict `json:"verdict"`
}

// EventResult reports whether a host event may proceed.
type EventResult struct {
	Allowed     bool   `json:"allowed"`
	BlockReason string `json:"block_reason,omitempty"`
}

// GuardsListResult is the guards.list response.
type GuardsListResult struct {
	Guards []string    `json:"guards"`
	Routes []verify.RouteInfo `json:"routes"`
}

// LedgerTotalParams holds parameters for "ledger.total".
type LedgerTotalParams struct {
	Session string `json:"session"`
}

// LedgerTotalResult is the ledger.total response.
type LedgerTotalResult struct {
	Session string  `json:"session"`
	Total   float64 `json:"total"`
}
