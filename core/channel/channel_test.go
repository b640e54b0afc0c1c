package channel

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestReplyErr(t *testing.T) {
	if err := Success("x").Err(); err != nil {
		t.Fatalf("success reply returned error %v", err)
	}

	err := Failure(CodeEdit, "Record not found").Err()
	var chErr *Error
	if !errors.As(err, &chErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if chErr.Code != CodeEdit || chErr.Message != "Record not found" {
		t.Fatalf("unexpected error: %#v", chErr)
	}

	if err := NotImplemented().Err(); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestReplyWireShape(t *testing.T) {
	data, err := json.Marshal(Failure(CodeArgument, "Required arguments are not provided"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	errObj, ok := decoded["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object: %s", data)
	}
	if errObj["code"] != CodeArgument {
		t.Fatalf("code = %v", errObj["code"])
	}
	if v, present := errObj["details"]; !present || v != nil {
		t.Fatalf("details must be present and null: %s", data)
	}
}

func TestDecodeResult(t *testing.T) {
	var wire Reply
	if err := json.Unmarshal([]byte(`{"result":["a","b"]}`), &wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var items []string
	if err := wire.DecodeResult(&items); err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("items = %v", items)
	}
}
