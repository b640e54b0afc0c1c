// Package cloudkit is a record store backed by CloudKit Web Services,
// authenticated with a server-to-server key.
package cloudkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/record"
)

const apiVersion = "1"

// Server error codes CloudKit reports per record or per request.
const (
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"
	CodeExists   = "RECORD_EXISTS"
	CodeThrottle = "THROTTLED"
)

// APIError is a CloudKit failure for a whole request or a single record.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"serverErrorCode"`
	Reason string `json:"reason"`
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return "cloudkit: " + e.Code
	}
	return fmt.Sprintf("cloudkit: %s: %s", e.Code, e.Reason)
}

type Store struct {
	baseURL     string
	environment string
	containers  map[string]struct{}
	signer      *Signer
	http        *http.Client
	limiter     *rate.Limiter
}

type Option func(*Store)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.http = c }
}

// WithRateLimit caps outbound requests. A non-positive rps disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Store) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New loads the signing key named in cfg and returns a Store.
func New(cfg config.CloudKit) (*Store, error) {
	key, err := LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load cloudkit key: %w", err)
	}
	signer, err := NewSigner(cfg.KeyID, key)
	if err != nil {
		return nil, err
	}
	return NewWithSigner(cfg, signer, WithRateLimit(cfg.RequestsPerSecond, cfg.Burst))
}

func NewWithSigner(cfg config.CloudKit, signer *Signer, opts ...Option) (*Store, error) {
	if signer == nil {
		return nil, errors.New("cloudkit signer is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("cloudkit base URL is required")
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "development"
	}
	s := &Store{
		baseURL:     base,
		environment: env,
		signer:      signer,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
	if len(cfg.Containers) > 0 {
		s.containers = make(map[string]struct{}, len(cfg.Containers))
		for _, c := range cfg.Containers {
			s.containers[strings.TrimSpace(c)] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Database implements record.Provider. When an allowlist is configured,
// containers outside it are rejected.
func (s *Store) Database(_ context.Context, container string, scope record.Scope) (record.Database, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, errors.New("container is required")
	}
	if s.containers != nil {
		if _, ok := s.containers[container]; !ok {
			return nil, fmt.Errorf("container %q is not configured for this key", container)
		}
	}
	return &database{
		store: s,
		root:  path.Join("/database", apiVersion, url.PathEscape(container), s.environment, scope.String()),
	}, nil
}

// post signs and sends one Web Services call. subpath is relative to the
// database root, e.g. "records/modify".
func (s *Store) post(ctx context.Context, root, subpath string, reqBody, dst any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	apiPath := root + "/" + subpath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+apiPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := s.signer.Sign(req, body, apiPath); err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = resp.Status
			apiErr.Reason = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", subpath, err)
	}
	return nil
}
