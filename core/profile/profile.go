// Package profile stores the CLI's connection settings under the user
// config directory.
package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jasonchiu/cloudhelper/core/channel"
	"github.com/jasonchiu/cloudhelper/core/record"
)

var ErrNotFound = errors.New("profile not found")

type Profile struct {
	Version   int    `toml:"version"`
	ServerURL string `toml:"server_url"`
	Channel   string `toml:"channel,omitempty"`
	Container string `toml:"container,omitempty"`
	Scope     string `toml:"scope,omitempty"`
}

// Initialized reports whether a container and scope have been selected.
func (p Profile) Initialized() bool {
	return p.Container != "" && p.Scope != ""
}

func (p Profile) ChannelName() string {
	if p.Channel == "" {
		return channel.DefaultName
	}
	return p.Channel
}

func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "cloudhelper", "profile.toml"), nil
}

func Load(path string) (Profile, error) {
	var p Profile
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Profile{}, err
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.ServerURL = strings.TrimRight(strings.TrimSpace(p.ServerURL), "/")
	return p, nil
}

func LoadDefault() (Profile, string, error) {
	path, err := DefaultPath()
	if err != nil {
		return Profile{}, "", err
	}
	p, err := Load(path)
	if err != nil {
		return Profile{}, path, err
	}
	return p, path, nil
}

func Write(path string, p Profile) error {
	p.ServerURL = strings.TrimRight(strings.TrimSpace(p.ServerURL), "/")
	if p.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if p.Scope != "" {
		scope, err := record.ParseScope(p.Scope)
		if err != nil {
			return err
		}
		p.Scope = scope.String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}
