package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jasonchiu/cloudhelper/core/channel"
	"github.com/jasonchiu/cloudhelper/core/memstore"
	"github.com/jasonchiu/cloudhelper/core/record"
)

// pagedDB serves fixed pages and can fail on a chosen page index.
type pagedDB struct {
	failingDB
	pages    []record.Page
	failAt   int
	calls    []record.Query
	inFlight int
	overlap  bool
}

func (p *pagedDB) Query(_ context.Context, q record.Query) (record.Page, error) {
	p.inFlight++
	defer func() { p.inFlight-- }()
	if p.inFlight > 1 {
		p.overlap = true
	}
	idx := len(p.calls)
	p.calls = append(p.calls, q)
	if idx == p.failAt {
		return record.Page{}, errors.New("page fetch failed")
	}
	return p.pages[idx], nil
}

func notes(from, to int) []record.Record {
	out := make([]record.Record, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, record.New("Note", fmt.Sprintf("n%d", i), fmt.Sprintf("v%d", i)))
	}
	return out
}

func TestAccumulateAcrossPageBoundary(t *testing.T) {
	store := memstore.New()
	db, err := store.Database(context.Background(), "X", record.ScopePrivate)
	if err != nil {
		t.Fatalf("Database: %v", err)
	}
	for _, rec := range notes(0, 401) {
		if _, err := db.Save(context.Background(), rec, record.SaveCreate); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := Accumulate(context.Background(), db, "Note", 400)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if len(got) != 401 {
		t.Fatalf("got %d payloads, want 401", len(got))
	}
	seen := map[string]bool{}
	for i, v := range got {
		if want := fmt.Sprintf("v%d", i); v != want {
			t.Fatalf("payload %d = %q, want %q", i, v, want)
		}
		if seen[v] {
			t.Fatalf("duplicate payload %q", v)
		}
		seen[v] = true
	}
}

func TestAccumulateUsesCursorInPlaceOfType(t *testing.T) {
	db := &pagedDB{
		failAt: -1,
		pages: []record.Page{
			{Records: notes(0, 2), Cursor: "c1"},
			{Records: notes(2, 4), Cursor: "c2"},
			{Records: notes(4, 5)},
		},
	}
	got, err := Accumulate(context.Background(), db, "Note", 2)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if fmt.Sprint(got) != "[v0 v1 v2 v3 v4]" {
		t.Fatalf("got %v", got)
	}
	if len(db.calls) != 3 {
		t.Fatalf("expected 3 page requests, got %d", len(db.calls))
	}
	if db.calls[0].Type != "Note" || db.calls[0].Cursor != "" || db.calls[0].Limit != 2 {
		t.Fatalf("first query = %#v", db.calls[0])
	}
	for i, want := range []record.Cursor{"c1", "c2"} {
		q := db.calls[i+1]
		if q.Cursor != want || q.Type != "" || q.Limit != 2 {
			t.Fatalf("query %d = %#v", i+1, q)
		}
	}
	if db.overlap {
		t.Fatal("pages were requested concurrently")
	}
}

func TestAccumulateSecondPageFailureDropsPartialResults(t *testing.T) {
	db := &pagedDB{
		failAt: 1,
		pages: []record.Page{
			{Records: notes(0, 400), Cursor: "c1"},
			{Records: notes(400, 401)},
		},
	}
	got, err := Accumulate(context.Background(), db, "Note", 400)
	if err == nil {
		t.Fatal("expected error")
	}
	if got != nil {
		t.Fatalf("expected no partial results, got %d", len(got))
	}

	p := record.ProviderFunc(func(context.Context, string, record.Scope) (record.Database, error) {
		return &pagedDB{failAt: 1, pages: db.pages}, nil
	})
	g := newTestGateway(p)
	mustSucceed(t, call(t, g, channel.MethodInitialize, initArgs("X", "private")))
	reply := call(t, g, channel.MethodGetAllRecords, map[string]any{"type": "Note"})
	e := mustFail(t, reply, channel.CodeGetData)
	if e.Message != "page fetch failed" {
		t.Fatalf("message = %q", e.Message)
	}
	if reply.Result != nil {
		t.Fatalf("failed list returned a result: %#v", reply.Result)
	}
}

func TestAccumulateSkipsRecordsWithoutData(t *testing.T) {
	bare := record.Record{Key: "b", Type: "Note", Fields: map[string]string{"title": "t"}}
	db := &pagedDB{
		failAt: -1,
		pages: []record.Page{
			{Records: []record.Record{record.New("Note", "a", "x"), bare, {Key: "c", Type: "Note"}, record.New("Note", "d", "y")}},
		},
	}
	got, err := Accumulate(context.Background(), db, "Note", 0)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if fmt.Sprint(got) != "[x y]" {
		t.Fatalf("got %v", got)
	}
	if db.calls[0].Limit != record.DefaultPageSize {
		t.Fatalf("default limit = %d", db.calls[0].Limit)
	}
}

func TestAccumulateEmptyResultIsEmptyList(t *testing.T) {
	db := &pagedDB{failAt: -1, pages: []record.Page{{}}}
	got, err := Accumulate(context.Background(), db, "Note", 10)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got %#v, want empty non-nil list", got)
	}
}

func TestAccumulateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := &pagedDB{failAt: -1, pages: []record.Page{{Records: notes(0, 1)}}}
	if _, err := Accumulate(ctx, db, "Note", 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(db.calls) != 0 {
		t.Fatalf("queried %d pages after cancellation", len(db.calls))
	}
}
