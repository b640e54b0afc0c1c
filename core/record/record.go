// Package record defines the record model shared by the gateway and every
// record store backend.
package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldData is the single payload field the gateway reads and writes.
const FieldData = "data"

// DefaultPageSize is the number of records requested per query page.
const DefaultPageSize = 400

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Scope selects the logical database partition inside a container.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopePublic  Scope = "public"
)

func ParseScope(v string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(v))) {
	case ScopePrivate:
		return ScopePrivate, nil
	case ScopePublic:
		return ScopePublic, nil
	default:
		return "", fmt.Errorf("unknown database scope %q", v)
	}
}

func (s Scope) String() string {
	return string(s)
}

// Record is a (key, type, fields) triple held by a store. ChangeTag is
// assigned by the store on every save.
type Record struct {
	Key        string
	Type       string
	Fields     map[string]string
	ChangeTag  string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// New returns a record carrying a single data field.
func New(recordType, key, data string) Record {
	return Record{
		Key:    key,
		Type:   recordType,
		Fields: map[string]string{FieldData: data},
	}
}

// Data returns the payload field and whether it is present.
func (r Record) Data() (string, bool) {
	if r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[FieldData]
	return v, ok
}

// SetData replaces the payload field, leaving key and type untouched.
func (r *Record) SetData(data string) {
	if r.Fields == nil {
		r.Fields = map[string]string{}
	}
	r.Fields[FieldData] = data
}

// Clone returns a deep copy so stores never share field maps with callers.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Cursor is an opaque continuation token for resuming a query.
type Cursor string

// SavePolicy controls how Save treats an existing record with the same key.
type SavePolicy int

const (
	// SaveCreate fails with ErrAlreadyExists when the key is taken.
	SaveCreate SavePolicy = iota
	// SaveOverwrite replaces whatever is stored under the key.
	SaveOverwrite
)

// Query asks for records of one type. When Cursor is set it replaces the
// type predicate and the store resumes the query it was issued for.
type Query struct {
	Type   string
	Cursor Cursor
	Limit  int
}

// Page is one bounded query result. Cursor is empty on the last page.
type Page struct {
	Records []Record
	Cursor  Cursor
}

// Database is the record store contract for one container scope.
type Database interface {
	Save(ctx context.Context, rec Record, policy SavePolicy) (Record, error)
	Fetch(ctx context.Context, key string) (Record, error)
	Delete(ctx context.Context, key string) error
	Query(ctx context.Context, q Query) (Page, error)
}

// Provider opens databases by container identifier and scope.
type Provider interface {
	Database(ctx context.Context, container string, scope Scope) (Database, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, container string, scope Scope) (Database, error)

func (f ProviderFunc) Database(ctx context.Context, container string, scope Scope) (Database, error) {
	return f(ctx, container, scope)
}

// ValidateKey rejects blank keys. Keys are otherwise opaque; stores that
// address records by path escape them.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("record key is required")
	}
	return nil
}

// ValidateType rejects record types the stores cannot address.
func ValidateType(recordType string) error {
	if strings.TrimSpace(recordType) == "" {
		return errors.New("record type is required")
	}
	if strings.ContainsAny(recordType, "/\\") {
		return fmt.Errorf("record type %q must not contain path separators", recordType)
	}
	return nil
}

// PageLimit normalises a requested page size.
func PageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}
