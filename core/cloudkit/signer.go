package cloudkit

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	headerKeyID     = "X-Apple-CloudKit-Request-KeyID"
	headerDate      = "X-Apple-CloudKit-Request-ISO8601Date"
	headerSignature = "X-Apple-CloudKit-Request-SignatureV1"

	dateLayout = "2006-01-02T15:04:05Z"
)

// Signer authenticates server-to-server requests with a CloudKit key.
type Signer struct {
	KeyID string
	key   *ecdsa.PrivateKey
	now   func() time.Time
}

func NewSigner(keyID string, key *ecdsa.PrivateKey) (*Signer, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, errors.New("cloudkit key id is required")
	}
	if key == nil {
		return nil, errors.New("cloudkit private key is required")
	}
	return &Signer{
		KeyID: keyID,
		key:   key,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// LoadPrivateKey reads a PEM encoded P-256 key in SEC1 or PKCS#8 form, as
// produced by `openssl ecparam -name prime256v1 -genkey`.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(data)
}

func ParsePrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no EC private key found in PEM data")
		}
		switch block.Type {
		case "EC PRIVATE KEY":
			return x509.ParseECPrivateKey(block.Bytes)
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			ec, ok := k.(*ecdsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("private key is %T, want ECDSA", k)
			}
			return ec, nil
		}
		// EC PARAMETERS and other blocks are skipped.
	}
}

// Sign sets the CloudKit authentication headers on req. subpath is the
// request path starting at /database.
func (s *Signer) Sign(req *http.Request, body []byte, subpath string) error {
	date := s.now().UTC().Format(dateLayout)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, signingDigest(date, body, subpath))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(headerKeyID, s.KeyID)
	req.Header.Set(headerDate, date)
	req.Header.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	return nil
}

// Verify checks the headers Sign wrote.
func Verify(pub *ecdsa.PublicKey, req *http.Request, body []byte, subpath string) bool {
	sig, err := base64.StdEncoding.DecodeString(req.Header.Get(headerSignature))
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1(pub, signingDigest(req.Header.Get(headerDate), body, subpath), sig)
}

func signingDigest(date string, body []byte, subpath string) []byte {
	bodySum := sha256.Sum256(body)
	message := date + ":" + base64.StdEncoding.EncodeToString(bodySum[:]) + ":" + subpath
	sum := sha256.Sum256([]byte(message))
	return sum[:]
}
