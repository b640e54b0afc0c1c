package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/jasonchiu/cloudhelper/core/record"
)

func TestCursorRoundTrip(t *testing.T) {
	c := encodeCursor("Note", 812)
	recordType, seq, err := decodeCursor(c)
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if recordType != "Note" || seq != 812 {
		t.Fatalf("got %q/%d", recordType, seq)
	}

	for _, bad := range []record.Cursor{"%%%", record.Cursor("Tm90ZQ"), encodeCursor("Note", -1)} {
		if _, _, err := decodeCursor(bad); !errors.Is(err, record.ErrInvalidCursor) {
			t.Errorf("decodeCursor(%q) = %v, want ErrInvalidCursor", bad, err)
		}
	}
}

func TestFieldsEncoding(t *testing.T) {
	text, err := encodeFields(nil)
	if err != nil || text != "{}" {
		t.Fatalf("encodeFields(nil) = %q, %v", text, err)
	}
	text, err = encodeFields(map[string]string{"data": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	fields, err := decodeFields([]byte(text))
	if err != nil || fields["data"] != "hi" {
		t.Fatalf("decodeFields = %v, %v", fields, err)
	}
	if fields, err := decodeFields(nil); err != nil || len(fields) != 0 {
		t.Fatalf("decodeFields(nil) = %v, %v", fields, err)
	}
	if _, err := decodeFields([]byte("[1]")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Setenv("CLOUDHELPER_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	if _, err := Open(""); err == nil {
		t.Fatal("expected missing dsn error")
	}
	if _, err := NewWithDB(nil); err == nil {
		t.Fatal("expected nil db error")
	}
}

// TestPostgresStore runs against a live database when
// CLOUDHELPER_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CLOUDHELPER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CLOUDHELPER_TEST_DATABASE_URL not set")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	container := "test." + uuid.NewString()
	db, err := s.Database(ctx, container, record.ScopePrivate)
	if err != nil {
		t.Fatalf("Database: %v", err)
	}

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("n%d", i)
		if _, err := db.Save(ctx, record.New("Note", key, key), record.SaveCreate); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, err := db.Save(ctx, record.New("Note", "n0", "dup"), record.SaveCreate); !errors.Is(err, record.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	rec, err := db.Fetch(ctx, "n1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	rec.SetData("changed")
	rec.Type = "Other"
	saved, err := db.Save(ctx, rec, record.SaveOverwrite)
	if err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	if saved.Type != "Note" {
		t.Fatalf("overwrite changed type: %q", saved.Type)
	}

	var got []string
	q := record.Query{Type: "Note", Limit: 2}
	for {
		page, err := db.Query(ctx, q)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		for _, r := range page.Records {
			v, _ := r.Data()
			got = append(got, v)
		}
		if page.Cursor == "" {
			break
		}
		q = record.Query{Cursor: page.Cursor, Limit: 2}
	}
	if fmt.Sprint(got) != "[n0 changed n2 n3 n4]" {
		t.Fatalf("got %v", got)
	}

	if err := db.Delete(ctx, "n0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := db.Delete(ctx, "n0"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.Fetch(ctx, "n0"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
