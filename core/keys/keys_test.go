package keys_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"

	"github.com/jasonchiu/cloudhelper/core/keys"
	"github.com/jasonchiu/cloudhelper/core/memstore"
	"github.com/jasonchiu/cloudhelper/core/record"
)

func TestIdentityRoundTrip(t *testing.T) {
	gen, err := keys.Generate("laptop")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "default.agekey")
	if err := keys.WriteIdentity(path, gen, false); err != nil {
		t.Fatalf("WriteIdentity: %v", err)
	}
	if err := keys.WriteIdentity(path, gen, false); err == nil {
		t.Fatal("expected existing key error")
	}
	if err := keys.WriteIdentity(path, gen, true); err != nil {
		t.Fatalf("WriteIdentity force: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}

	id, meta, err := keys.LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if meta.Label != "laptop" || id.Recipient().String() != gen.Recipient.String() {
		t.Fatalf("loaded %q / %s", meta.Label, id.Recipient())
	}

	empty := filepath.Join(t.TempDir(), "empty.agekey")
	_ = os.WriteFile(empty, []byte("# nothing\n"), 0o600)
	if _, _, err := keys.LoadIdentity(empty); err == nil {
		t.Fatal("expected missing secret key error")
	}
}

func TestDefaultKeyPath(t *testing.T) {
	if _, err := keys.DefaultKeyPath("a/b"); err == nil {
		t.Fatal("expected path separator error")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	p, err := keys.DefaultKeyPath("")
	if err != nil {
		t.Fatalf("DefaultKeyPath: %v", err)
	}
	if !strings.HasSuffix(p, filepath.Join("cloudhelper", "keys", "default.agekey")) {
		t.Fatalf("path = %s", p)
	}
}

func TestParseRecipients(t *testing.T) {
	gen, _ := keys.Generate("")
	rs, err := keys.ParseRecipients([]string{"", " " + gen.Recipient.String() + " "})
	if err != nil || len(rs) != 1 {
		t.Fatalf("ParseRecipients = %v, %v", rs, err)
	}
	if _, err := keys.ParseRecipients([]string{"age1bogus"}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := keys.ParseRecipients(nil); err == nil {
		t.Fatal("expected empty recipients error")
	}
	if len(keys.Fingerprint(gen.Recipient.String())) != 16 {
		t.Fatal("fingerprint should be 16 hex chars")
	}
}

func newSealer(t *testing.T) *keys.Sealer {
	t.Helper()
	gen, err := keys.Generate("")
	if err != nil {
		t.Fatal(err)
	}
	s, err := keys.NewSealer([]age.Recipient{gen.Recipient}, gen.Identity)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealedDatabase(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	sealer := newSealer(t)

	db, err := sealer.Provider(inner).Database(ctx, "iCloud.test", record.ScopePrivate)
	if err != nil {
		t.Fatalf("Database: %v", err)
	}
	saved, err := db.Save(ctx, record.New("Note", "n1", "secret"), record.SaveCreate)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if v, _ := saved.Data(); v != "secret" {
		t.Fatalf("saved data = %q", v)
	}

	raw, _ := inner.Database(ctx, "iCloud.test", record.ScopePrivate)
	stored, err := raw.Fetch(ctx, "n1")
	if err != nil {
		t.Fatalf("raw Fetch: %v", err)
	}
	if v, _ := stored.Data(); !strings.HasPrefix(v, "-----BEGIN AGE ENCRYPTED FILE-----") || strings.Contains(v, "secret") {
		t.Fatalf("payload not sealed: %q", v)
	}

	got, err := db.Fetch(ctx, "n1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, _ := got.Data(); v != "secret" {
		t.Fatalf("fetched data = %q", v)
	}
	page, err := db.Query(ctx, record.Query{Type: "Note"})
	if err != nil || len(page.Records) != 1 {
		t.Fatalf("Query = %v, %v", page, err)
	}
	if v, _ := page.Records[0].Data(); v != "secret" {
		t.Fatalf("queried data = %q", v)
	}

	// A different identity cannot open what was sealed.
	other := newSealer(t)
	otherDB, _ := other.Provider(inner).Database(ctx, "iCloud.test", record.ScopePrivate)
	if _, err := otherDB.Fetch(ctx, "n1"); !errors.Is(err, keys.ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}

	if err := db.Delete(ctx, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Fetch(ctx, "n1"); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSealEmptyPayload(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal("")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := s.Open(sealed)
	if err != nil || plain != "" {
		t.Fatalf("Open = %q, %v", plain, err)
	}
	if _, err := keys.NewSealer(nil, nil); err == nil {
		t.Fatal("expected recipients error")
	}
}
