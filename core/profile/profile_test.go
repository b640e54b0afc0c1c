package profile

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.toml")
	if _, err := Load(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	in := Profile{ServerURL: " http://127.0.0.1:8080/ ", Container: "iCloud.test", Scope: "PUBLIC"}
	if err := Write(path, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Profile{Version: 1, ServerURL: "http://127.0.0.1:8080", Container: "iCloud.test", Scope: "public"}
	if got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
	if !got.Initialized() || got.ChannelName() != "cloud_helper" {
		t.Fatalf("profile helpers: %v %q", got.Initialized(), got.ChannelName())
	}
}

func TestWriteValidates(t *testing.T) {
	dir := t.TempDir()
	if err := Write(filepath.Join(dir, "a.toml"), Profile{}); err == nil {
		t.Fatal("expected server_url error")
	}
	if err := Write(filepath.Join(dir, "b.toml"), Profile{ServerURL: "http://x", Scope: "shared"}); err == nil {
		t.Fatal("expected scope error")
	}
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	p, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p) != "profile.toml" || filepath.Base(filepath.Dir(p)) != "cloudhelper" {
		t.Fatalf("path = %s", p)
	}
}
