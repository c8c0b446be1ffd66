package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotAuthenticated = errors.New("no student token available")
	ErrTokenExpired     = errors.New("student token expired")
	ErrTokenMalformed   = errors.New("student token malformed")
)

// StudentClaims mirrors the claims the exam backend puts in a student JWT.
// The runner never verifies the signature; it only reads expiry and identity.
type StudentClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    int    `json:"user_id"`
	ClassID   int    `json:"class_id,omitempty"`
}

// TokenSource is the runner's authentication capability: it holds the
// student's bearer token and knows whether it is still usable.
type TokenSource struct {
	mu    sync.RWMutex
	token string
	file  string
	now   func() time.Time
}

// NewTokenSource uses envToken when set, otherwise whatever a previous
// `login` stored in file. A missing file simply means not authenticated.
func NewTokenSource(envToken, file string) *TokenSource {
	ts := &TokenSource{file: file, now: time.Now}
	ts.token = strings.TrimSpace(envToken)
	if ts.token == "" && file != "" {
		if raw, err := os.ReadFile(file); err == nil {
			ts.token = strings.TrimSpace(string(raw))
		}
	}
	return ts
}

// Token returns the bearer token, or an error when there is none or it expired.
func (t *TokenSource) Token() (string, error) {
	t.mu.RLock()
	token := t.token
	t.mu.RUnlock()

	if token == "" {
		return "", ErrNotAuthenticated
	}
	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}
	if exp := claims.ExpiresAt; exp != nil && !t.now().Before(exp.Time) {
		return "", ErrTokenExpired
	}
	return token, nil
}

// IsAuthenticated reports whether a usable token is present.
func (t *TokenSource) IsAuthenticated() bool {
	_, err := t.Token()
	return err == nil
}

// Claims returns the decoded claims of the current token.
func (t *TokenSource) Claims() (*StudentClaims, error) {
	token, err := t.Token()
	if err != nil {
		return nil, err
	}
	return parseClaims(token)
}

// Save replaces the token and persists it to the token file (0600).
func (t *TokenSource) Save(token string) error {
	token = strings.TrimSpace(token)
	if _, err := parseClaims(token); err != nil {
		return err
	}

	if t.file != "" {
		if err := os.MkdirAll(filepath.Dir(t.file), 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
		if err := os.WriteFile(t.file, []byte(token+"\n"), 0o600); err != nil {
			return fmt.Errorf("write token file: %w", err)
		}
	}

	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
	return nil
}

// Clear forgets the token and removes the token file.
func (t *TokenSource) Clear() error {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()

	if t.file == "" {
		return nil
	}
	if err := os.Remove(t.file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func parseClaims(token string) (*StudentClaims, error) {
	claims := &StudentClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return claims, nil
}
