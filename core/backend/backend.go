// Package backend builds the record provider selected in gateway.toml.
// Command handlers and the server only see record.Provider, so the store
// behind them can change without touching either.
package backend

import (
	"fmt"

	"github.com/jasonchiu/cloudhelper/core/cloudkit"
	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/keys"
	"github.com/jasonchiu/cloudhelper/core/memstore"
	"github.com/jasonchiu/cloudhelper/core/pgstore"
	"github.com/jasonchiu/cloudhelper/core/record"
	"github.com/jasonchiu/cloudhelper/core/remote"
)

type Backend struct {
	Kind     string
	Provider record.Provider
	Sealed   bool
	closer   func() error
}

func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open constructs the provider for cfg.Backend and, when sealing is
// configured, wraps it so payloads are encrypted at rest.
func Open(cfg config.Gateway) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{Kind: cfg.Backend}

	switch cfg.Backend {
	case config.BackendMemory:
		b.Provider = memstore.New()
	case config.BackendS3:
		s, err := remote.New(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 backend: %w", err)
		}
		b.Provider = s
	case config.BackendPostgres:
		s, err := pgstore.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		b.Provider = s
		b.closer = s.Close
	case config.BackendCloudKit:
		s, err := cloudkit.New(cfg.CloudKit)
		if err != nil {
			return nil, fmt.Errorf("open cloudkit backend: %w", err)
		}
		b.Provider = s
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.Seal.Enabled() {
		sealer, err := newSealer(cfg.Seal)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Provider = sealer.Provider(b.Provider)
		b.Sealed = true
	}
	return b, nil
}

func newSealer(cfg config.Seal) (*keys.Sealer, error) {
	recipients, err := keys.ParseRecipients(cfg.Recipients)
	if err != nil {
		return nil, fmt.Errorf("seal recipients: %w", err)
	}
	identity, _, err := keys.LoadIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("seal identity: %w", err)
	}
	return keys.NewSealer(recipients, identity)
}
