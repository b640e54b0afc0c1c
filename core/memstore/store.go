// Package memstore is an in-process record store used for development and
// tests. Records keep insertion order so queries page deterministically.
package memstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jasonchiu/cloudhelper/core/record"
)

type entry struct {
	rec record.Record
	seq uint64
}

type database struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
	now     func() time.Time
}

// Store holds one database per (container, scope).
type Store struct {
	mu  sync.Mutex
	dbs map[string]*database
	now func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the clock used for record timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		dbs: map[string]*database{},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database implements record.Provider.
func (s *Store) Database(_ context.Context, container string, scope record.Scope) (record.Database, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("memstore: container is required")
	}
	name := container + "|" + scope.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[name]
	if !ok {
		db = &database{entries: map[string]*entry{}, now: s.now}
		s.dbs[name] = db
	}
	return db, nil
}

func (d *database) Save(ctx context.Context, rec record.Record, policy record.SavePolicy) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	if strings.TrimSpace(rec.Key) == "" {
		return record.Record{}, fmt.Errorf("memstore: record key is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	existing, ok := d.entries[rec.Key]
	if ok && policy == record.SaveCreate {
		return record.Record{}, fmt.Errorf("memstore: %q: %w", rec.Key, record.ErrAlreadyExists)
	}

	stored := rec.Clone()
	stored.ChangeTag = uuid.NewString()
	stored.ModifiedAt = now
	if ok {
		// Key and type stay as first written.
		stored.Type = existing.rec.Type
		stored.CreatedAt = existing.rec.CreatedAt
		existing.rec = stored
		return stored.Clone(), nil
	}
	stored.CreatedAt = now
	d.nextSeq++
	d.entries[rec.Key] = &entry{rec: stored, seq: d.nextSeq}
	return stored.Clone(), nil
}

func (d *database) Fetch(ctx context.Context, key string) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key]
	if !ok {
		return record.Record{}, record.ErrNotFound
	}
	return e.rec.Clone(), nil
}

func (d *database) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[key]; !ok {
		return record.ErrNotFound
	}
	delete(d.entries, key)
	return nil
}

func (d *database) Query(ctx context.Context, q record.Query) (record.Page, error) {
	if err := ctx.Err(); err != nil {
		return record.Page{}, err
	}
	recordType := q.Type
	var after uint64
	if q.Cursor != "" {
		var err error
		recordType, after, err = decodeCursor(q.Cursor)
		if err != nil {
			return record.Page{}, err
		}
	}
	limit := record.PageLimit(q.Limit)

	d.mu.RLock()
	matched := make([]*entry, 0)
	for _, e := range d.entries {
		if e.rec.Type == recordType && e.seq > after {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	page := record.Page{}
	n := len(matched)
	if n > limit {
		n = limit
	}
	page.Records = make([]record.Record, 0, n)
	for _, e := range matched[:n] {
		page.Records = append(page.Records, e.rec.Clone())
	}
	if len(matched) > limit {
		page.Cursor = encodeCursor(recordType, matched[limit-1].seq)
	}
	d.mu.RUnlock()
	return page, nil
}

func encodeCursor(recordType string, seq uint64) record.Cursor {
	raw := recordType + "\x00" + strconv.FormatUint(seq, 10)
	return record.Cursor(base64.RawURLEncoding.EncodeToString([]byte(raw)))
}

func decodeCursor(c record.Cursor) (string, uint64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return "", 0, fmt.Errorf("memstore: %w", record.ErrInvalidCursor)
	}
	recordType, seqText, ok := strings.Cut(string(raw), "\x00")
	if !ok {
		return "", 0, fmt.Errorf("memstore: %w", record.ErrInvalidCursor)
	}
	seq, err := strconv.ParseUint(seqText, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("memstore: %w", record.ErrInvalidCursor)
	}
	return recordType, seq, nil
}
