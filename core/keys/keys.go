// Package keys manages the age identities used to seal record payloads.
//
// An identity lives in a local .agekey file tagged with a label. Its
// recipient is listed in gateway.toml [seal] so the server encrypts each
// record's data field to it, and the identity path lets the server open
// sealed records again when listing them.
package keys

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const labelPrefix = "# cloudhelper-key:"

type GeneratedIdentity struct {
	Identity  *age.X25519Identity
	Recipient *age.X25519Recipient
	Label     string
}

type Metadata struct {
	Label string
}

func Generate(label string) (GeneratedIdentity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return GeneratedIdentity{}, err
	}
	return GeneratedIdentity{
		Identity:  id,
		Recipient: id.Recipient(),
		Label:     strings.TrimSpace(label),
	}, nil
}

func keysDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "cloudhelper", "keys"), nil
}

// DefaultKeyPath returns <user config dir>/cloudhelper/keys/<name>.agekey.
func DefaultKeyPath(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		name = "default"
	}
	if strings.ContainsAny(name, "/\\") {
		return "", errors.New("key name must not contain path separators")
	}
	dir, err := keysDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".agekey"), nil
}

func WriteIdentity(path string, generated GeneratedIdentity, force bool) error {
	if generated.Identity == nil {
		return errors.New("missing identity")
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("key already exists at %s", path)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	content := generated.Identity.String() + "\n"
	if generated.Label != "" {
		content = fmt.Sprintf("%s %s\n%s", labelPrefix, generated.Label, content)
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func LoadIdentity(path string) (*age.X25519Identity, Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer f.Close()

	var meta Metadata
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case strings.HasPrefix(line, labelPrefix):
			meta.Label = strings.TrimSpace(strings.TrimPrefix(line, labelPrefix))
		case strings.HasPrefix(line, "AGE-SECRET-KEY-"):
			id, err := age.ParseX25519Identity(line)
			if err != nil {
				return nil, Metadata{}, err
			}
			return id, meta, nil
		}
	}
	if err := s.Err(); err != nil {
		return nil, Metadata{}, err
	}
	return nil, Metadata{}, errors.New("no AGE-SECRET-KEY found")
}

// ParseRecipients parses age public keys, skipping blanks.
func ParseRecipients(pubs []string) ([]age.Recipient, error) {
	out := make([]age.Recipient, 0, len(pubs))
	for _, pub := range pubs {
		pub = strings.TrimSpace(pub)
		if pub == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(pub)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", Fingerprint(pub), err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	return out, nil
}

// Fingerprint is a short stable identifier for a public key.
func Fingerprint(pub string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(pub)))
	return hex.EncodeToString(sum[:8])
}
