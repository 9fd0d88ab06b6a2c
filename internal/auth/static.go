package auth

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Static serves one pre-issued token until it expires.
type Static struct {
	token     string
	expiresAt time.Time
	clock     clockwork.Clock
}

// NewStatic creates a Static source. A nil clock uses the real clock.
func NewStatic(token string, clock clockwork.Clock) *Static {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Static{
		token:     token,
		expiresAt: tokenExpiry(token, time.Time{}),
		clock:     clock,
	}
}

// Token returns the token, or an error when it is empty or expired.
func (s *Static) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNotAuthenticated
	}
	if !s.expiresAt.IsZero() && !s.clock.Now().Before(s.expiresAt) {
		return "", ErrSessionExpired
	}
	return s.token, nil
}
