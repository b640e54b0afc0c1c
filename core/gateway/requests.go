package gateway

import (
	"strings"

	"github.com/jasonchiu/cloudhelper/core/record"
)

const messageMissingArguments = "Required arguments are not provided"

// InitializeRequest selects the container and database scope.
type InitializeRequest struct {
	ContainerID string
	Scope       record.Scope
}

// AddRecordRequest creates a record.
type AddRecordRequest struct {
	Type string
	Data string
	ID   string
}

// EditRecordRequest replaces the payload of an existing record.
type EditRecordRequest struct {
	Data string
	ID   string
}

// DeleteRecordRequest removes a record.
type DeleteRecordRequest struct {
	ID string
}

// GetAllRecordsRequest lists the payloads of every record of one type.
type GetAllRecordsRequest struct {
	Type string
}

// argBag reads typed values out of the untyped channel arguments.
type argBag struct {
	args    map[string]any
	missing []string
}

func (b *argBag) text(key string) string {
	v, ok := b.args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		b.missing = append(b.missing, key)
		return ""
	}
	return v
}

// payload accepts the empty string; only absence or a non-string fails.
func (b *argBag) payload(key string) string {
	v, ok := b.args[key].(string)
	if !ok {
		b.missing = append(b.missing, key)
		return ""
	}
	return v
}

func (b *argBag) err() error {
	if len(b.missing) == 0 {
		return nil
	}
	return &ArgumentError{Missing: b.missing}
}

// ArgumentError reports required arguments that were absent or malformed.
type ArgumentError struct {
	Missing []string
	Reason  string
}

func (e *ArgumentError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return messageMissingArguments + ": " + strings.Join(e.Missing, ", ")
}

func DecodeInitialize(args map[string]any) (InitializeRequest, error) {
	b := argBag{args: args}
	req := InitializeRequest{ContainerID: strings.TrimSpace(b.text("containerId"))}
	scopeText := b.text("databaseType")
	if err := b.err(); err != nil {
		return InitializeRequest{}, err
	}
	scope, err := record.ParseScope(scopeText)
	if err != nil {
		return InitializeRequest{}, &ArgumentError{Missing: []string{"databaseType"}, Reason: err.Error()}
	}
	req.Scope = scope
	return req, nil
}

func DecodeAddRecord(args map[string]any) (AddRecordRequest, error) {
	b := argBag{args: args}
	req := AddRecordRequest{
		Type: b.text("type"),
		Data: b.payload("data"),
		ID:   b.text("id"),
	}
	return req, b.err()
}

func DecodeEditRecord(args map[string]any) (EditRecordRequest, error) {
	b := argBag{args: args}
	req := EditRecordRequest{
		Data: b.payload("data"),
		ID:   b.text("id"),
	}
	return req, b.err()
}

func DecodeDeleteRecord(args map[string]any) (DeleteRecordRequest, error) {
	b := argBag{args: args}
	req := DeleteRecordRequest{ID: b.text("id")}
	return req, b.err()
}

func DecodeGetAllRecords(args map[string]any) (GetAllRecordsRequest, error) {
	b := argBag{args: args}
	req := GetAllRecordsRequest{Type: b.text("type")}
	return req, b.err()
}

// Arguments renders a typed request back into channel arguments.
func (r InitializeRequest) Arguments() map[string]any {
	return map[string]any{"containerId": r.ContainerID, "databaseType": r.Scope.String()}
}

func (r AddRecordRequest) Arguments() map[string]any {
	return map[string]any{"type": r.Type, "data": r.Data, "id": r.ID}
}

func (r EditRecordRequest) Arguments() map[string]any {
	return map[string]any{"data": r.Data, "id": r.ID}
}

func (r DeleteRecordRequest) Arguments() map[string]any {
	return map[string]any{"id": r.ID}
}

func (r GetAllRecordsRequest) Arguments() map[string]any {
	return map[string]any{"type": r.Type}
}
