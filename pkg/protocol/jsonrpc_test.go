package protocol

import (
	"encoding/json"
	"testing"

	"github.com/cgast/vguard/pkg/verify"
)

func TestRequestMarshal(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  MethodVerify,
		Params:  json.RawMessage(`{"candidate":{"type":"tool_call"}}`),
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Method != MethodVerify {
		t.Errorf("Method = %q, want %q", decoded.Method, MethodVerify)
	}
}

func TestResponseSuccess(t *testing.T) {
	resp := NewResponse(1, map[string]any{"data": "hello"})

	if resp.JSONRPC != "2.0" {
		t.Error("JSONRPC should be 2.0")
	}
	if resp.Error != nil {
		t.Error("Error should be nil for success response")
	}
	if resp.ID != 1 {
		t.Errorf("ID = %v, want 1", resp.ID)
	}
}

func TestResponseError(t *testing.T) {
	resp := NewErrorResponse(2, CodeMethodNotFound, "method not found", nil)

	if resp.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
	if resp.Error.Error() != "method not found" {
		t.Errorf("Message = %q", resp.Error.Message)
	}
}

func TestResponseMarshalRoundTrip(t *testing.T) {
	resp := NewResponse("abc", map[string]string{"status": "ok"})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != "abc" {
		t.Errorf("ID = %v, want %q", decoded.ID, "abc")
	}
}

func TestVerifyResultJSON(t *testing.T) {
	res := VerifyResult{
		RecordID: "r1",
		Verdict: verify.Verdict{
			Verified:     false,
			GuardsFailed: 1,
			GuardResults: []verify.CheckResult{verify.Fail("tool_call", verify.SeverityError, "blocked tool: exec")},
			BlockReason:  "blocked tool: exec",
		},
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	verdict, ok := decoded["verdict"].(map[string]any)
	if !ok {
		t.Fatalf("verdict missing: %s", data)
	}
	if verdict["block_reason"] != "blocked tool: exec" {
		t.Errorf("block_reason = %v", verdict["block_reason"])
	}
}

func TestMethodConstants(t *testing.T) {
	methods := []string{
		MethodVerify, MethodEvent, MethodGuardsList,
		MethodHistorySummary, MethodLedgerTotal,
	}

	seen := make(map[string]bool)
	for _, m := range methods {
		if m == "" {
			t.Error("empty method constant")
		}
		if seen[m] {
			t.Errorf("duplicate method: %s", m)
		}
		seen[m] = true
	}
}

func TestErrorResponseWithData(t *testing.T) {
	resp := NewErrorResponse(1, CodeVerifyFailed, "verification failed", map[string]string{
		"guard":  "tool_call",
		"reason": "blocked tool: exec",
	})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Error.Code != CodeVerifyFailed {
		t.Errorf("Code = %d", decoded.Error.Code)
	}
}
