package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/jasonchiu/cloudhelper/core/record"
)

// ErrSealed is returned when a stored payload cannot be opened with the
// configured identity.
var ErrSealed = errors.New("payload cannot be decrypted")

// Sealer encrypts the data field of every record written through it and
// decrypts it on the way out.
type Sealer struct {
	recipients []age.Recipient
	identity   age.Identity
}

func NewSealer(recipients []age.Recipient, identity age.Identity) (*Sealer, error) {
	if len(recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if identity == nil {
		return nil, errors.New("identity is required")
	}
	return &Sealer{recipients: recipients, identity: identity}, nil
}

// Seal returns the armored ciphertext of plaintext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, s.recipients...)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := aw.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	r, err := age.Decrypt(armor.NewReader(strings.NewReader(sealed)), s.identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealed, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealed, err)
	}
	return string(out), nil
}

// Provider wraps every database opened by next.
func (s *Sealer) Provider(next record.Provider) record.Provider {
	return record.ProviderFunc(func(ctx context.Context, container string, scope record.Scope) (record.Database, error) {
		db, err := next.Database(ctx, container, scope)
		if err != nil {
			return nil, err
		}
		return &sealedDB{next: db, sealer: s}, nil
	})
}

type sealedDB struct {
	next   record.Database
	sealer *Sealer
}

func (d *sealedDB) seal(rec record.Record) (record.Record, error) {
	out := rec.Clone()
	if v, ok := out.Data(); ok {
		sealed, err := d.sealer.Seal(v)
		if err != nil {
			return record.Record{}, err
		}
		out.SetData(sealed)
	}
	return out, nil
}

func (d *sealedDB) open(rec record.Record) (record.Record, error) {
	if v, ok := rec.Data(); ok {
		plain, err := d.sealer.Open(v)
		if err != nil {
			return record.Record{}, fmt.Errorf("record %q: %w", rec.Key, err)
		}
		rec.SetData(plain)
	}
	return rec, nil
}

func (d *sealedDB) Save(ctx context.Context, rec record.Record, policy record.SavePolicy) (record.Record, error) {
	sealed, err := d.seal(rec)
	if err != nil {
		return record.Record{}, err
	}
	saved, err := d.next.Save(ctx, sealed, policy)
	if err != nil {
		return record.Record{}, err
	}
	// Hand back the caller's plaintext rather than decrypting our own output.
	if v, ok := rec.Data(); ok {
		saved = saved.Clone()
		saved.SetData(v)
	}
	return saved, nil
}

func (d *sealedDB) Fetch(ctx context.Context, key string) (record.Record, error) {
	rec, err := d.next.Fetch(ctx, key)
	if err != nil {
		return record.Record{}, err
	}
	return d.open(rec.Clone())
}

func (d *sealedDB) Delete(ctx context.Context, key string) error {
	return d.next.Delete(ctx, key)
}

func (d *sealedDB) Query(ctx context.Context, q record.Query) (record.Page, error) {
	page, err := d.next.Query(ctx, q)
	if err != nil {
		return record.Page{}, err
	}
	out := record.Page{Records: make([]record.Record, 0, len(page.Records)), Cursor: page.Cursor}
	for _, rec := range page.Records {
		opened, err := d.open(rec.Clone())
		if err != nil {
			return record.Page{}, err
		}
		out.Records = append(out.Records, opened)
	}
	return out, nil
}
