package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultGatewayFile = "gateway.toml"

// Backend kinds accepted in Gateway.Backend.
const (
	BackendMemory   = "memory"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendCloudKit = "cloudkit"
)

var ErrGatewayConfigNotFound = errors.New("gateway config not found")

// Gateway selects and configures the record store behind the channel.
type Gateway struct {
	Version  int      `toml:"version"`
	Backend  string   `toml:"backend"`
	PageSize int      `toml:"page_size,omitempty"`
	S3       S3       `toml:"s3"`
	Postgres Postgres `toml:"postgres"`
	CloudKit CloudKit `toml:"cloudkit"`
	Seal     Seal     `toml:"seal"`
}

type S3 struct {
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
	Region   string `toml:"region,omitempty"`
}

type Postgres struct {
	DSN string `toml:"dsn,omitempty"`
}

type CloudKit struct {
	BaseURL           string   `toml:"base_url,omitempty"`
	Environment       string   `toml:"environment,omitempty"`
	KeyID             string   `toml:"key_id,omitempty"`
	PrivateKeyPath    string   `toml:"private_key_path,omitempty"`
	Containers        []string `toml:"containers,omitempty"`
	RequestsPerSecond float64  `toml:"requests_per_second,omitempty"`
	Burst             int      `toml:"burst,omitempty"`
}

// Seal enables age encryption of record payloads at rest.
type Seal struct {
	Recipients   []string `toml:"recipients,omitempty"`
	IdentityPath string   `toml:"identity_path,omitempty"`
}

func (s Seal) Enabled() bool {
	return len(s.Recipients) > 0
}

func DefaultGateway() Gateway {
	return Gateway{
		Version: 1,
		Backend: BackendMemory,
		S3: S3{
			Prefix: "cloudhelper",
			Region: "auto",
		},
		CloudKit: CloudKit{
			BaseURL:     "https://api.apple-cloudkit.com",
			Environment: "development",
			Burst:       1,
		},
	}
}

// Validate checks the settings the selected backend needs. Credentials that
// come from the environment are checked when the backend is opened.
func (g Gateway) Validate() error {
	switch g.Backend {
	case BackendMemory, BackendPostgres:
	case BackendS3:
		if strings.TrimSpace(g.S3.Bucket) == "" {
			return errors.New("s3 bucket is required")
		}
	case BackendCloudKit:
		if strings.TrimSpace(g.CloudKit.KeyID) == "" {
			return errors.New("cloudkit key_id is required")
		}
		if strings.TrimSpace(g.CloudKit.PrivateKeyPath) == "" {
			return errors.New("cloudkit private_key_path is required")
		}
		switch g.CloudKit.Environment {
		case "development", "production":
		default:
			return fmt.Errorf("cloudkit environment must be development or production, got %q", g.CloudKit.Environment)
		}
	default:
		return fmt.Errorf("unknown backend %q", g.Backend)
	}
	if g.PageSize < 0 {
		return errors.New("page_size must not be negative")
	}
	if g.Seal.Enabled() && strings.TrimSpace(g.Seal.IdentityPath) == "" {
		return errors.New("seal identity_path is required when recipients are set")
	}
	return nil
}

func WriteGateway(path string, g Gateway) error {
	if g.Version == 0 {
		g.Version = 1
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(g)
}

// LoadGateway decodes path over DefaultGateway, so omitted keys keep their
// defaults.
func LoadGateway(path string) (Gateway, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Gateway{}, ErrGatewayConfigNotFound
		}
		return Gateway{}, err
	}
	g := DefaultGateway()
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return Gateway{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if g.Version == 0 {
		g.Version = 1
	}
	g.Backend = strings.ToLower(strings.TrimSpace(g.Backend))
	if err := g.Validate(); err != nil {
		return Gateway{}, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// LoadGatewayOrDefault falls back to the in-memory backend when no file
// exists at path.
func LoadGatewayOrDefault(path string) (Gateway, error) {
	g, err := LoadGateway(path)
	if errors.Is(err, ErrGatewayConfigNotFound) {
		return DefaultGateway(), nil
	}
	return g, err
}
