package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"transcendence/coordinator/internal/auth"
)

type websocketAuthenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

// allowAllAuthenticator trusts the user_id query parameter. Only suitable
// for local development, selected when no auth secret is configured.
type allowAllAuthenticator struct{}

func (allowAllAuthenticator) Authenticate(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("user_id"))
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errors.New("missing or malformed user_id")
	}
	return userID, nil
}

type hmacWebsocketAuthenticator struct {
	verifier *auth.Verifier
}

func newHMACWebsocketAuthenticator(secret string, leeway time.Duration) (websocketAuthenticator, error) {
	verifier, err := auth.NewVerifier(secret, leeway)
	if err != nil {
		return nil, err
	}
	return &hmacWebsocketAuthenticator{verifier: verifier}, nil
}

// Authenticate validates the incoming token and returns the user identity.
func (a *hmacWebsocketAuthenticator) Authenticate(r *http.Request) (int64, error) {
	if a == nil || a.verifier == nil {
		return 0, errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return 0, errors.New("missing auth token")
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}
