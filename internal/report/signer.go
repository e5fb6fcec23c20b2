package report

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// SignatureAlgorithm names the MAC used for report signatures.
const SignatureAlgorithm = "HMAC-SHA256"

//nolint:gochecknoglobals // sentinel errors
var (
	ErrShortKey          = errors.New("report: signing key must be at least 32 bytes")
	ErrUnsigned          = errors.New("report: report is not signed")
	ErrUnknownSigningKey = errors.New("report: signature was made with a different key")
)

// Signature is an integrity stamp over a report's canonical bytes.
type Signature struct {
	Algorithm      string    `json:"algorithm"`
	Value          string    `json:"value"`
	KeyFingerprint string    `json:"key_fingerprint"`
	SignedAt       time.Time `json:"signed_at"`
}

// Signer stamps and checks report signatures with one key.
type Signer struct {
	key         []byte
	fingerprint string
	now         func() time.Time
}

func NewSigner(key []byte) (*Signer, error) {
	if len(key) < 32 {
		return nil, ErrShortKey
	}
	sum := sha256.Sum256(key)
	return &Signer{
		key:         append([]byte(nil), key...),
		fingerprint: hex.EncodeToString(sum[:])[:16],
		now:         time.Now,
	}, nil
}

// Fingerprint identifies the signing key without revealing it.
func (s *Signer) Fingerprint() string {
	return s.fingerprint
}

func (s *Signer) mac(r *ComplianceReport) (string, error) {
	payload, err := CanonicalBytes(r)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Sign attaches a signature to r, replacing any previous one.
func (s *Signer) Sign(r *ComplianceReport) error {
	value, err := s.mac(r)
	if err != nil {
		return fmt.Errorf("report.Signer.Sign: %w", err)
	}
	r.Signature = &Signature{
		Algorithm:      SignatureAlgorithm,
		Value:          value,
		KeyFingerprint: s.fingerprint,
		SignedAt:       s.now().UTC(),
	}
	return nil
}

// Verify reports whether r carries a valid signature made with this key.
// A well-formed signature that does not match returns false and no error.
func (s *Signer) Verify(r *ComplianceReport) (bool, error) {
	sig := r.Signature
	if sig == nil {
		return false, ErrUnsigned
	}
	if sig.KeyFingerprint != s.fingerprint {
		return false, ErrUnknownSigningKey
	}
	if sig.Algorithm != SignatureAlgorithm {
		return false, fmt.Errorf("report.Signer.Verify: unsupported algorithm %q", sig.Algorithm)
	}

	want, err := s.mac(r)
	if err != nil {
		return false, fmt.Errorf("report.Signer.Verify: %w", err)
	}
	got, err := hex.DecodeString(sig.Value)
	if err != nil {
		return false, nil //nolint:nilerr // malformed value is a failed check
	}
	wantRaw, _ := hex.DecodeString(want)
	return hmac.Equal(got, wantRaw), nil
}
