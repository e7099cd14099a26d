// Package auth resolves inbound connections to verified user identities.
// Tokens are compact HS256 JWTs minted by the REST layer; the coordinator
// only verifies them, it never issues credentials to clients itself.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had a
	// malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

// Audience is the expected audience claim for coordinator tokens.
const Audience = "coordinator"

// UserClaims is the verified identity carried by a connection token.
type UserClaims struct {
	UserID    int64
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Verifier validates compact HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewVerifier constructs a verifier for the supplied shared secret and clock
// skew allowance.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the verifier clock, enabling deterministic unit tests.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify parses the token, validates signature, audience and expiry, and
// returns the embedded user identity.
func (v *Verifier) Verify(token string) (*UserClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header struct {
		Algorithm string `json:"alg"`
		Type      string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	expected := v.sign([]byte(strings.Join(parts[:2], ".")))
	signature, err := decodeSegment(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, expected) {
		return nil, ErrInvalidToken
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload struct {
		Subject  string `json:"sub"`
		Expires  int64  `json:"exp"`
		Issued   int64  `json:"iat"`
		Audience string `json:"aud"`
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(payload.Subject), 10, 64)
	if err != nil || userID <= 0 {
		return nil, ErrInvalidToken
	}
	if payload.Audience != "" && payload.Audience != Audience {
		return nil, fmt.Errorf("%w: unexpected audience %q", ErrInvalidToken, payload.Audience)
	}
	if payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}

	return &UserClaims{
		UserID:    userID,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
	}, nil
}

// Issue mints a token for the user, valid for the given duration. The REST
// layer uses this when handing sockets to authenticated browsers; tests use
// it to build fixtures.
func Issue(secret string, userID int64, ttl time.Duration, now time.Time) (string, error) {
	verifier, err := NewVerifier(secret, 0)
	if err != nil {
		return "", err
	}
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]any{
		"sub": strconv.FormatInt(userID, 10),
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
		"aud": Audience,
	})
	if err != nil {
		return "", err
	}
	signed := encodeSegment(header) + "." + encodeSegment(payload)
	signature := verifier.sign([]byte(signed))
	return signed + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (v *Verifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}

func encodeSegment(segment []byte) string {
	return base64.RawURLEncoding.EncodeToString(segment)
}
