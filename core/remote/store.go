// Package remote stores records as JSON objects in an S3-compatible bucket.
//
// Layout under the configured prefix:
//
//	<prefix>/<container>/<scope>/records/<escaped key>.json
//	<prefix>/<container>/<scope>/types/<type>/<escaped key>
//
// The types tree is an index of empty marker objects listed by Query. A
// marker is written before its record and removed after it, so a record
// is never left unindexed; Query skips markers without a matching record.
package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/record"
	"github.com/jasonchiu/cloudhelper/core/tigris"
)

type Store struct {
	client *tigris.Client
	prefix string
	now    func() time.Time
}

func New(cfg config.S3) (*Store, error) {
	client, err := tigris.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient builds a Store over an existing tigris client.
func NewWithClient(client *tigris.Client, prefix string) *Store {
	pfx := strings.Trim(strings.TrimSpace(prefix), "/")
	if pfx == "" {
		pfx = "cloudhelper"
	}
	return &Store{
		client: client,
		prefix: pfx,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Database implements record.Provider.
func (s *Store) Database(_ context.Context, container string, scope record.Scope) (record.Database, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, errors.New("container is required")
	}
	if strings.ContainsAny(container, "/\\") {
		return nil, fmt.Errorf("container %q must not contain path separators", container)
	}
	return &database{
		client: s.client,
		root:   path.Join(s.prefix, container, scope.String()),
		now:    s.now,
	}, nil
}

type database struct {
	client *tigris.Client
	root   string
	now    func() time.Time
}

type storedRecord struct {
	Version    int               `json:"version"`
	Key        string            `json:"key"`
	Type       string            `json:"type"`
	Fields     map[string]string `json:"fields"`
	ChangeTag  string            `json:"change_tag"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
}

func (r storedRecord) record() record.Record {
	return record.Record{
		Key:        r.Key,
		Type:       r.Type,
		Fields:     r.Fields,
		ChangeTag:  r.ChangeTag,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
	}
}

func (d *database) recordKey(key string) string {
	return path.Join(d.root, "records", url.PathEscape(key)+".json")
}

func (d *database) typePrefix(recordType string) string {
	return path.Join(d.root, "types", recordType) + "/"
}

func (d *database) typeMarker(recordType, key string) string {
	return d.typePrefix(recordType) + url.PathEscape(key)
}

func (d *database) Save(ctx context.Context, rec record.Record, policy record.SavePolicy) (record.Record, error) {
	if err := record.ValidateKey(rec.Key); err != nil {
		return record.Record{}, err
	}
	if err := record.ValidateType(rec.Type); err != nil {
		return record.Record{}, err
	}

	now := d.now()
	stored := storedRecord{
		Version:    1,
		Key:        rec.Key,
		Type:       rec.Type,
		Fields:     rec.Clone().Fields,
		ChangeTag:  uuid.NewString(),
		CreatedAt:  now,
		ModifiedAt: now,
	}

	ifAbsent := policy == record.SaveCreate
	if !ifAbsent {
		existing, err := d.load(ctx, rec.Key)
		switch {
		case err == nil:
			// Key and type stay as first written.
			stored.Type = existing.Type
			stored.CreatedAt = existing.CreatedAt
		case errors.Is(err, record.ErrNotFound):
		default:
			return record.Record{}, err
		}
	}

	if err := d.client.PutMarker(ctx, d.typeMarker(stored.Type, rec.Key)); err != nil {
		return record.Record{}, fmt.Errorf("index %q: %w", rec.Key, err)
	}
	if err := d.client.PutJSON(ctx, d.recordKey(rec.Key), stored, ifAbsent); err != nil {
		if errors.Is(err, tigris.ErrPreconditionFailed) {
			return record.Record{}, fmt.Errorf("%q: %w", rec.Key, record.ErrAlreadyExists)
		}
		return record.Record{}, err
	}
	return stored.record(), nil
}

func (d *database) load(ctx context.Context, key string) (storedRecord, error) {
	if err := record.ValidateKey(key); err != nil {
		return storedRecord{}, err
	}
	var stored storedRecord
	if err := d.client.GetJSON(ctx, d.recordKey(key), &stored); err != nil {
		if errors.Is(err, tigris.ErrObjectNotFound) {
			return storedRecord{}, record.ErrNotFound
		}
		return storedRecord{}, err
	}
	if stored.Version == 0 {
		stored.Version = 1
	}
	return stored, nil
}

func (d *database) Fetch(ctx context.Context, key string) (record.Record, error) {
	stored, err := d.load(ctx, key)
	if err != nil {
		return record.Record{}, err
	}
	return stored.record(), nil
}

func (d *database) Delete(ctx context.Context, key string) error {
	stored, err := d.load(ctx, key)
	if err != nil {
		return err
	}
	if err := d.client.DeleteObject(ctx, d.recordKey(key)); err != nil {
		return err
	}
	return d.client.DeleteObject(ctx, d.typeMarker(stored.Type, key))
}

type cursorState struct {
	Type  string `json:"t"`
	Token string `json:"k"`
}

func (d *database) Query(ctx context.Context, q record.Query) (record.Page, error) {
	state := cursorState{Type: q.Type}
	if q.Cursor != "" {
		var err error
		state, err = decodeCursor(q.Cursor)
		if err != nil {
			return record.Page{}, err
		}
	}
	if err := record.ValidateType(state.Type); err != nil {
		return record.Page{}, err
	}

	prefix := d.typePrefix(state.Type)
	keys, err := d.client.ListPage(ctx, prefix, state.Token, record.PageLimit(q.Limit))
	if err != nil {
		return record.Page{}, err
	}

	page := record.Page{Records: make([]record.Record, 0, len(keys.Keys))}
	for _, marker := range keys.Keys {
		key, err := url.PathUnescape(strings.TrimPrefix(marker, prefix))
		if err != nil {
			continue
		}
		stored, err := d.load(ctx, key)
		if err != nil {
			// Markers outlive their record after a failed create or delete.
			if errors.Is(err, record.ErrNotFound) {
				continue
			}
			return record.Page{}, err
		}
		if stored.Type != state.Type {
			continue
		}
		page.Records = append(page.Records, stored.record())
	}
	if keys.NextToken != "" {
		page.Cursor = encodeCursor(cursorState{Type: state.Type, Token: keys.NextToken})
	}
	return page, nil
}

func encodeCursor(state cursorState) record.Cursor {
	data, _ := json.Marshal(state)
	return record.Cursor(base64.RawURLEncoding.EncodeToString(data))
}

func decodeCursor(c record.Cursor) (cursorState, error) {
	data, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return cursorState{}, record.ErrInvalidCursor
	}
	var state cursorState
	if err := json.Unmarshal(data, &state); err != nil || state.Token == "" {
		return cursorState{}, record.ErrInvalidCursor
	}
	return state, nil
}
