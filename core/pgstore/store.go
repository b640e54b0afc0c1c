// Package pgstore keeps records in a single Postgres table, one row per
// (container, scope, key). Queries page by insertion sequence.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jasonchiu/cloudhelper/core/record"
)

const uniqueViolation = "23505"

// Store implements record.Provider backed by Postgres.
type Store struct {
	db *sql.DB
}

// Open connects using dsn, falling back to CLOUDHELPER_DATABASE_URL and
// DATABASE_URL, and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("CLOUDHELPER_DATABASE_URL")
	}
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres dsn not set (CLOUDHELPER_DATABASE_URL/DATABASE_URL)")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s, err := NewWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB reuses an existing *sql.DB.
func NewWithDB(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureTable(db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS cloudhelper_records (
  container text NOT NULL,
  scope text NOT NULL,
  record_key text NOT NULL,
  record_type text NOT NULL,
  fields jsonb NOT NULL DEFAULT '{}'::jsonb,
  change_tag text NOT NULL,
  seq bigserial,
  created_at timestamptz NOT NULL DEFAULT now(),
  modified_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (container, scope, record_key)
);
CREATE INDEX IF NOT EXISTS cloudhelper_records_type_seq
  ON cloudhelper_records (container, scope, record_type, seq);
`

func ensureTable(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Database implements record.Provider.
func (s *Store) Database(_ context.Context, container string, scope record.Scope) (record.Database, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, errors.New("container is required")
	}
	return &database{db: s.db, container: container, scope: scope.String()}, nil
}

type database struct {
	db        *sql.DB
	container string
	scope     string
}

const (
	insertSQL = `INSERT INTO cloudhelper_records (container, scope, record_key, record_type, fields, change_tag)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, modified_at`

	upsertSQL = `INSERT INTO cloudhelper_records (container, scope, record_key, record_type, fields, change_tag)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (container, scope, record_key)
DO UPDATE SET fields = EXCLUDED.fields, change_tag = EXCLUDED.change_tag, modified_at = now()
RETURNING record_type, created_at, modified_at`

	fetchSQL = `SELECT record_type, fields, change_tag, created_at, modified_at
FROM cloudhelper_records WHERE container=$1 AND scope=$2 AND record_key=$3`

	deleteSQL = `DELETE FROM cloudhelper_records WHERE container=$1 AND scope=$2 AND record_key=$3`

	querySQL = `SELECT record_key, fields, change_tag, created_at, modified_at, seq
FROM cloudhelper_records
WHERE container=$1 AND scope=$2 AND record_type=$3 AND seq > $4
ORDER BY seq
LIMIT $5`
)

func (d *database) Save(ctx context.Context, rec record.Record, policy record.SavePolicy) (record.Record, error) {
	if strings.TrimSpace(rec.Key) == "" {
		return record.Record{}, errors.New("record key is required")
	}
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return record.Record{}, err
	}
	out := rec.Clone()
	out.ChangeTag = uuid.NewString()

	if policy == record.SaveCreate {
		err = d.db.QueryRowContext(ctx, insertSQL, d.container, d.scope, rec.Key, rec.Type, fields, out.ChangeTag).
			Scan(&out.CreatedAt, &out.ModifiedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				return record.Record{}, fmt.Errorf("%q: %w", rec.Key, record.ErrAlreadyExists)
			}
			return record.Record{}, err
		}
		return out, nil
	}

	// The upsert never touches record_type, so the key keeps its first type.
	err = d.db.QueryRowContext(ctx, upsertSQL, d.container, d.scope, rec.Key, rec.Type, fields, out.ChangeTag).
		Scan(&out.Type, &out.CreatedAt, &out.ModifiedAt)
	if err != nil {
		return record.Record{}, err
	}
	return out, nil
}

func (d *database) Fetch(ctx context.Context, key string) (record.Record, error) {
	rec := record.Record{Key: key}
	var raw []byte
	err := d.db.QueryRowContext(ctx, fetchSQL, d.container, d.scope, key).
		Scan(&rec.Type, &raw, &rec.ChangeTag, &rec.CreatedAt, &rec.ModifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, record.ErrNotFound
		}
		return record.Record{}, err
	}
	if rec.Fields, err = decodeFields(raw); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func (d *database) Delete(ctx context.Context, key string) error {
	res, err := d.db.ExecContext(ctx, deleteSQL, d.container, d.scope, key)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return record.ErrNotFound
	}
	return nil
}

func (d *database) Query(ctx context.Context, q record.Query) (record.Page, error) {
	recordType := q.Type
	var after int64
	if q.Cursor != "" {
		var err error
		recordType, after, err = decodeCursor(q.Cursor)
		if err != nil {
			return record.Page{}, err
		}
	}
	limit := record.PageLimit(q.Limit)

	// One extra row tells whether another page exists.
	rows, err := d.db.QueryContext(ctx, querySQL, d.container, d.scope, recordType, after, limit+1)
	if err != nil {
		return record.Page{}, err
	}
	defer rows.Close()

	page := record.Page{Records: make([]record.Record, 0, limit)}
	var lastSeq int64
	more := false
	for rows.Next() {
		if len(page.Records) == limit {
			more = true
			break
		}
		rec := record.Record{Type: recordType}
		var raw []byte
		if err := rows.Scan(&rec.Key, &raw, &rec.ChangeTag, &rec.CreatedAt, &rec.ModifiedAt, &lastSeq); err != nil {
			return record.Page{}, err
		}
		if rec.Fields, err = decodeFields(raw); err != nil {
			return record.Page{}, err
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return record.Page{}, err
	}
	if more {
		page.Cursor = encodeCursor(recordType, lastSeq)
	}
	return page, nil
}

// encodeFields returns text so lib/pq binds it as jsonb rather than bytea.
func encodeFields(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(raw []byte) (map[string]string, error) {
	fields := map[string]string{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

func encodeCursor(recordType string, seq int64) record.Cursor {
	raw := recordType + "\x00" + strconv.FormatInt(seq, 10)
	return record.Cursor(base64.RawURLEncoding.EncodeToString([]byte(raw)))
}

func decodeCursor(c record.Cursor) (string, int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return "", 0, record.ErrInvalidCursor
	}
	recordType, seqText, ok := strings.Cut(string(raw), "\x00")
	if !ok {
		return "", 0, record.ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(seqText, 10, 64)
	if err != nil || seq < 0 {
		return "", 0, record.ErrInvalidCursor
	}
	return recordType, seq, nil
}
