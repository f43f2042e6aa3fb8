// Package session holds the signed-in user's tokens and resolves
// bearer credentials for outgoing backend calls.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Session errors.
var (
	ErrNotAuthenticated = errors.New("no session tokens available")
	ErrNoSubject        = errors.New("token carries no subject claim")
)

// IDToken mirrors the identity-token shapes the provider hands out:
// a pre-decoded string form and the raw encoded JWT.
type IDToken struct {
	Value string `json:"value"`
	JWT   string `json:"jwt"`
}

// Tokens is the stored session token set.
type Tokens struct {
	IDToken     IDToken `json:"id_token"`
	AccessToken string  `json:"access_token"`
}

// Session is the agent's view of the signed-in user. All methods are
// safe for concurrent use.
type Session struct {
	mu     sync.RWMutex
	tokens *Tokens
	userID string
}

// New creates an empty, unauthenticated session.
func New() *Session {
	return &Session{}
}

// LoadFile reads a JSON token file into the session.
func (s *Session) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}

	s.SetTokens(tokens)
	return nil
}

// SetTokens replaces the session tokens, e.g. after a fresh sign-in.
func (s *Session) SetTokens(tokens Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = &tokens
	s.userID = ""
}

// Clear drops the session on sign-out.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	s.userID = ""
}

// Authenticated reports whether any token is held.
func (s *Session) Authenticated() bool {
	_, ok := s.BearerToken()
	return ok
}

// BearerToken resolves a bearer token for outgoing calls, trying the
// decoded ID token, the raw encoded JWT, and finally the access token.
// Returns false if the session holds no usable token; callers proceed
// unauthenticated rather than fail, since some endpoints tolerate it.
func (s *Session) BearerToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tokens == nil {
		return "", false
	}

	if s.tokens.IDToken.Value != "" {
		return s.tokens.IDToken.Value, true
	}
	if s.tokens.IDToken.JWT != "" {
		slog.Debug("credential accessor fell back to raw id token")
		return s.tokens.IDToken.JWT, true
	}
	if s.tokens.AccessToken != "" {
		slog.Debug("credential accessor fell back to access token")
		return s.tokens.AccessToken, true
	}

	slog.Debug("no token found in session")
	return "", false
}

// UserID returns the user identifier from the token's sub claim.
// The token is parsed without signature verification: the backend is
// the verifying party, the agent only needs the subject. The result is
// cached until the tokens change.
func (s *Session) UserID() (string, error) {
	s.mu.RLock()
	cached := s.userID
	s.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	token, ok := s.BearerToken()
	if !ok {
		return "", ErrNotAuthenticated
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}

	s.mu.Lock()
	s.userID = sub
	s.mu.Unlock()

	return sub, nil
}
