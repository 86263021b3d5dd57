package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestHandlerMethodNotFound(t *testing.T) {
	h := NewHandler()
	req := Request{JSONRPC: "2.0", ID: 1, Method: "nonexistent"}

	resp := h.Handle(req)
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestHandlerInvalidVersion(t *testing.T) {
	h := NewHandler()
	req := Request{JSONRPC: "1.0", ID: 1, Method: "test"}

	resp := h.Handle(req)
	if resp.Error == nil {
		t.Fatal("expected error for invalid version")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeInvalidRequest)
	}
}

func TestHandlerSuccess(t *testing.T) {
	h := NewHandler()
	h.Register("echo", func(params json.RawMessage) (any, *Error) {
		return map[string]string{"echo": string(params)}, nil
	})

	req := Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "echo",
		Params:  json.RawMessage(`"hello"`),
	}

	resp := h.Handle(req)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]string)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result["echo"] != `"hello"` {
		t.Errorf("echo = %q", result["echo"])
	}
}

func TestHandlerError(t *testing.T) {
	h := NewHandler()
	h.Register("fail", func(params json.RawMessage) (any, *Error) {
		return nil, &Error{Code: CodeVerifyFailed, Message: "boom"}
	})

	req := Request{JSONRPC: "2.0", ID: 2, Method: "fail"}
	resp := h.Handle(req)

	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeVerifyFailed {
		t.Errorf("Code = %d", resp.Error.Code)
	}
	if resp.ID != 2 {
		t.Errorf("ID = %v", resp.ID)
	}
}

func TestHandleRaw(t *testing.T) {
	h := NewHandler()
	h.Register("ping", func(params json.RawMessage) (any, *Error) {
		return "pong", nil
	})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	resp := h.HandleRaw(raw)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result != "pong" {
		t.Errorf("Result = %v", resp.Result)
	}
}

func TestHandleRawParseError(t *testing.T) {
	h := NewHandler()
	resp := h.HandleRaw([]byte(`{invalid json`))

	if resp.Error == nil {
		t.Fatal("expected parse error")
	}
	if resp.Error.Code != CodeParseError {
		t.Errorf("Code = %d", resp.Error.Code)
	}
}

func TestParseParams(t *testing.T) {
	raw := json.RawMessage(`{"candidate":{"type":"tool_call","tool_name":"search"},"guards":["tool_call"],"session":"s1"}`)
	params, err := ParseParams[VerifyParams](raw)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if params.Candidate["tool_name"] != "search" {
		t.Errorf("tool_name = %v", params.Candidate["tool_name"])
	}
	if len(params.Guards) != 1 || params.Session != "s1" {
		t.Errorf("params = %+v", params)
	}
}

func TestParseParamsNil(t *testing.T) {
	params, err := ParseParams[VerifyParams](nil)
	if err != nil {
		t.Fatalf("ParseParams(nil): %v", err)
	}
	if params.Candidate != nil {
		t.Errorf("expected nil candidate, got %v", params.Candidate)
	}
}

func TestParseParamsInvalid(t *testing.T) {
	_, err := ParseParams[VerifyParams](json.RawMessage(`"not an object"`))
	if err == nil {
		t.Fatal("expected error for invalid params")
	}
	if err.Code != CodeInvalidParams {
		t.Errorf("Code = %d", err.Code)
	}
}

func TestHandlerMethods(t *testing.T) {
	h := NewHandler()
	h.Register("b", func(params json.RawMessage) (any, *Error) { return nil, nil })
	h.Register("a", func(params json.RawMessage) (any, *Error) { return nil, nil })
	h.Register("a", func(params json.RawMessage) (any, *Error) { return "replaced", nil })

	methods := h.Methods()
	if !reflect.DeepEqual(methods, []string{"a", "b"}) {
		t.Errorf("Methods() = %v, want [a b]", methods)
	}
}

func TestServe(t *testing.T) {
	h := NewHandler()
	h.Register("ping", func(params json.RawMessage) (any, *Error) {
		return "pong", nil
	})

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		``,
		`{"jsonrpc":"2.0","method":"ping"}`,
		`{broken`,
		`{"jsonrpc":"2.0","id":"x","method":"missing"}`,
	}, "\n")
	var out bytes.Buffer
	if err := h.Serve(context.Background(), strings.NewReader(in), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	dec := json.NewDecoder(&out)
	var got []Response
	for dec.More() {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, resp)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 responses (notification skipped), got %d", len(got))
	}
	if got[0].Result != "pong" {
		t.Errorf("first result = %v", got[0].Result)
	}
	if got[1].Error == nil || got[1].Error.Code != CodeParseError {
		t.Errorf("second response = %+v, want parse error", got[1])
	}
	if got[2].Error == nil || got[2].Error.Code != CodeMethodNotFound || got[2].ID != "x" {
		t.Errorf("third response = %+v, want method not found for id x", got[2])
	}
}

func TestServeCancelled(t *testing.T) {
	h := NewHandler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
}
