package cli

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/gateway"
	"github.com/jasonchiu/cloudhelper/core/memstore"
	"github.com/jasonchiu/cloudhelper/core/profile"
	"github.com/jasonchiu/cloudhelper/core/router"
)

// setup isolates the user config dir and captures command output.
func setup(t *testing.T) *bytes.Buffer {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gw := gateway.New(memstore.New(), gateway.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := httptest.NewServer(router.New(router.Deps{Gateway: gw, Quiet: true}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, out *bytes.Buffer, args ...string) string {
	t.Helper()
	out.Reset()
	if err := Run(args); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestRecordCommands(t *testing.T) {
	out := setup(t)
	srv := newServer(t)

	if err := Run([]string{"add", "--type", "Note", "--id", "n1"}); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("expected not connected error, got %v", err)
	}

	got := run(t, out, "connect", "--server", srv.URL, "--container", "iCloud.test", "--scope", "public")
	if !strings.Contains(got, "Container: iCloud.test (public)") {
		t.Fatalf("connect output: %s", got)
	}
	p, _, err := profile.LoadDefault()
	if err != nil || p.Container != "iCloud.test" || p.Scope != "public" {
		t.Fatalf("profile = %#v, %v", p, err)
	}

	run(t, out, "add", "--type", "Note", "--id", "n1", "--data", "hello")
	run(t, out, "add", "--type", "Note", "--id", "n2", "--data", "")
	if got := run(t, out, "list", "--type", "Note", "--json"); strings.TrimSpace(got) != `["hello",""]` {
		t.Fatalf("list output: %q", got)
	}
	if got := run(t, out, "edit", "--id", "n1", "--data", "bye"); !strings.Contains(got, "Updated n1: bye") {
		t.Fatalf("edit output: %s", got)
	}
	run(t, out, "delete", "--id", "n2")
	if got := run(t, out, "list", "--type", "Note"); got != "bye\n" {
		t.Fatalf("list output: %q", got)
	}

	err = Run([]string{"edit", "--id", "missing", "--data", "x"})
	if err == nil || !strings.Contains(err.Error(), "EDIT_ERROR: Record not found") {
		t.Fatalf("expected edit error, got %v", err)
	}

	got = run(t, out, "call", "--method", "bulkInsert")
	if !strings.Contains(got, `"notImplemented": true`) {
		t.Fatalf("call output: %s", got)
	}
	if err := Run([]string{"call", "--method", "x", "--args", "[1]"}); err == nil {
		t.Fatal("expected --args error")
	}

	got = run(t, out, "status")
	if !strings.Contains(got, "Local key: missing") || !strings.Contains(got, "Server context: iCloud.test (public)") {
		t.Fatalf("status output: %s", got)
	}
}

func TestReinitializesWhenContextChanged(t *testing.T) {
	out := setup(t)
	srv := newServer(t)
	run(t, out, "connect", "--server", srv.URL, "--container", "iCloud.a")
	run(t, out, "add", "--type", "Note", "--id", "n1", "--data", "a")

	// Another client moves the server to a different container.
	p, path, _ := profile.LoadDefault()
	run(t, out, "connect", "--container", "iCloud.b")
	run(t, out, "add", "--type", "Note", "--id", "n1", "--data", "b")
	if err := profile.Write(path, p); err != nil {
		t.Fatal(err)
	}

	if got := run(t, out, "list", "--type", "Note"); got != "a\n" {
		t.Fatalf("list after switching back: %q", got)
	}
}

func TestKeysAndConfigCommands(t *testing.T) {
	out := setup(t)

	got := run(t, out, "keys", "init", "--name", "ci")
	if !strings.Contains(got, "Label: ci") || !strings.Contains(got, "Public key: age1") {
		t.Fatalf("keys init output: %s", got)
	}
	if err := Run([]string{"keys", "init"}); err == nil {
		t.Fatal("expected existing key error")
	}
	if got := run(t, out, "keys", "show"); !strings.Contains(got, "Label: ci") {
		t.Fatalf("keys show output: %s", got)
	}

	path := filepath.Join(t.TempDir(), "gateway.toml")
	run(t, out, "config", "init", "--path", path, "--backend", "s3", "--bucket", "records", "--page-size", "50", "--seal")
	g, err := config.LoadGateway(path)
	if err != nil {
		t.Fatalf("LoadGateway: %v", err)
	}
	if g.Backend != config.BackendS3 || g.S3.Bucket != "records" || g.PageSize != 50 || !g.Seal.Enabled() {
		t.Fatalf("gateway = %#v", g)
	}
	if err := Run([]string{"config", "init", "--path", path}); err == nil {
		t.Fatal("expected existing config error")
	}
	if got := run(t, out, "config", "show", "--path", path); !strings.Contains(got, "Bucket: records") || !strings.Contains(got, "Sealing: 1 recipient(s)") {
		t.Fatalf("config show output: %s", got)
	}

	if err := Run([]string{"config", "init", "--path", filepath.Join(t.TempDir(), "g.toml"), "--backend", "cloudkit"}); err == nil {
		t.Fatal("expected cloudkit validation error")
	}
	if err := Run([]string{"nope"}); err == nil {
		t.Fatal("expected unknown command error")
	}
}
