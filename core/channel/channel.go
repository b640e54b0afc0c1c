// Package channel holds the wire envelopes of the cloud_helper method
// channel. Clients send a MethodCall and receive exactly one Reply.
package channel

import (
	"encoding/json"
	"fmt"
)

// DefaultName is the channel name clients register against.
const DefaultName = "cloud_helper"

// Method names accepted on the channel.
const (
	MethodInitialize    = "initialize"
	MethodAddRecord     = "addRecord"
	MethodEditRecord    = "editRecord"
	MethodDeleteRecord  = "deleteRecord"
	MethodGetAllRecords = "getAllRecords"
)

// Error codes carried in Error.Code.
const (
	CodeArgument       = "ARGUMENT_ERROR"
	CodeInitialization = "INITIALIZATION_ERROR"
	CodeUpload         = "UPLOAD_ERROR"
	CodeEdit           = "EDIT_ERROR"
	CodeDelete         = "DELETE_ERROR"
	CodeGetData        = "GET_DATA_ERROR"
)

// MethodCall is one invocation: a method name plus an untyped argument bag.
type MethodCall struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

// Error is the failure payload of a reply.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reply is the single completion of a MethodCall. Exactly one of Result,
// Error or NotImplemented is meaningful.
type Reply struct {
	Result         any    `json:"result"`
	Error          *Error `json:"error,omitempty"`
	NotImplemented bool   `json:"notImplemented,omitempty"`
}

// Success wraps a result value.
func Success(result any) Reply {
	return Reply{Result: result}
}

// Failure wraps an error code and message.
func Failure(code, message string) Reply {
	return Reply{Error: &Error{Code: code, Message: message}}
}

// NotImplemented reports a method the channel does not handle.
func NotImplemented() Reply {
	return Reply{NotImplemented: true}
}

// Err returns the reply error as an error value, or nil on success.
func (r Reply) Err() error {
	if r.Error != nil {
		return r.Error
	}
	if r.NotImplemented {
		return ErrNotImplemented
	}
	return nil
}

// ErrNotImplemented is returned by Reply.Err for not-implemented replies.
var ErrNotImplemented = &Error{Code: "NOT_IMPLEMENTED", Message: "method not implemented"}

// DecodeResult re-decodes a reply result into out.
func (r Reply) DecodeResult(out any) error {
	data, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
