// Package qrtoken issues and verifies the signed codes rendered as attendance
// QR images.
//
// A code has three dot separated parts:
//
//	base64url(payload JSON) "." hex(HMAC-SHA256) "." expiry unix seconds
//
// The MAC covers the encoded payload and the literal expiry text. An expiry of
// 0 means the code carries no explicit expiry and is bounded by its rotation
// window instead.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Kind distinguishes what the code identifies.
type Kind string

const (
	KindProfile Kind = "profile"
	KindBooking Kind = "booking"
)

const (
	// DefaultRotation is the profile code rotation window.
	DefaultRotation = 5 * time.Second
	// DefaultWindowTTL bounds codes without an explicit expiry.
	DefaultWindowTTL = 35 * time.Second
)

var (
	// ErrMalformed is returned when a code cannot be split or decoded.
	ErrMalformed = errors.New("qrtoken: malformed code")
	// ErrInvalidSignature is returned when the MAC does not match.
	ErrInvalidSignature = errors.New("qrtoken: invalid signature")
	// ErrExpired is returned when the code is past its expiry.
	ErrExpired = errors.New("qrtoken: expired")
)

// Payload is the signed content of a code.
type Payload struct {
	Subject string `json:"sub"`
	Kind    Kind   `json:"kind"`
	Window  int64  `json:"win"`
}

// Claims is a verified code.
type Claims struct {
	Payload
	ExpiresAt time.Time
}

// Signer issues and verifies codes with a key derived from a server secret.
type Signer struct {
	keyID     string
	key       []byte
	rotation  time.Duration
	windowTTL time.Duration
}

// Option configures a Signer.
type Option func(*Signer)

// WithRotation overrides the rotation window.
func WithRotation(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.rotation = d
		}
	}
}

// WithWindowTTL overrides the validity of codes without explicit expiry.
func WithWindowTTL(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.windowTTL = d
		}
	}
}

// DeriveKey expands secret into a 32 byte signing key bound to keyID.
func DeriveKey(secret []byte, keyID string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("qrtoken: empty secret")
	}
	reader := hkdf.New(sha256.New, secret, nil, []byte("mess-attendance/qr/"+keyID))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("qrtoken: derive key: %w", err)
	}
	return key, nil
}

// NewSigner derives the signing key for keyID from secret.
func NewSigner(secret []byte, keyID string, opts ...Option) (*Signer, error) {
	key, err := DeriveKey(secret, keyID)
	if err != nil {
		return nil, err
	}
	s := &Signer{
		keyID:     keyID,
		key:       key,
		rotation:  DefaultRotation,
		windowTTL: DefaultWindowTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// KeyID identifies the active signing key.
func (s *Signer) KeyID() string { return s.keyID }

// Rotation returns the rotation window length.
func (s *Signer) Rotation() time.Duration { return s.rotation }

// WindowTTL returns how long a code without explicit expiry stays valid after
// its window opens.
func (s *Signer) WindowTTL() time.Duration { return s.windowTTL }

// Window returns the rotation window index containing t.
func (s *Signer) Window(t time.Time) int64 {
	return t.UnixNano() / int64(s.rotation)
}

// WindowStart returns the first instant of window w.
func (s *Signer) WindowStart(w int64) time.Time {
	return time.Unix(0, w*int64(s.rotation))
}

// Issue signs p. A zero expiresAt issues a window-bounded code.
func (s *Signer) Issue(p Payload, expiresAt time.Time) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("qrtoken: encode payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	expiry := "0"
	if !expiresAt.IsZero() {
		expiry = strconv.FormatInt(expiresAt.Unix(), 10)
	}
	return encoded + "." + s.sign(encoded, expiry) + "." + expiry, nil
}

// Verify checks the code's MAC and expiry at now.
func (s *Signer) Verify(code string, now time.Time) (Claims, error) {
	parts := strings.Split(code, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Claims{}, ErrMalformed
	}
	encoded, sig, expiry := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(sig), []byte(s.sign(encoded, expiry))) {
		return Claims{}, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil || p.Subject == "" {
		return Claims{}, ErrMalformed
	}
	exp, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || exp < 0 {
		return Claims{}, ErrMalformed
	}

	claims := Claims{Payload: p}
	if exp > 0 {
		claims.ExpiresAt = time.Unix(exp, 0)
	} else {
		claims.ExpiresAt = s.WindowStart(p.Window).Add(s.windowTTL)
	}
	if now.After(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func (s *Signer) sign(encoded, expiry string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encoded))
	mac.Write([]byte{'.'})
	mac.Write([]byte(expiry))
	return hex.EncodeToString(mac.Sum(nil))
}
