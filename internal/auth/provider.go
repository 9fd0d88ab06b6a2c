// Package auth supplies bearer credentials for the hub and REST calls,
// renewing them with the refresh token before they expire.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/bidup-live/internal/api"
)

var (
	// ErrNotAuthenticated means no session exists.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired means the access token expired and could not be renewed.
	ErrSessionExpired = errors.New("session expired")
)

// DefaultRefreshMargin is how close to expiry a token is renewed.
const DefaultRefreshMargin = 60 * time.Second

// Source returns a valid bearer credential.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Client is the subset of the REST API the provider calls.
type Client interface {
	Login(ctx context.Context, req api.LoginRequest) (*api.AuthResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (*api.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*api.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Session describes the signed-in user.
type Session struct {
	UserID    string
	UserName  string
	FullName  string
	ExpiresAt time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the clock used for expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Provider) {
		p.clock = clock
	}
}

// WithRefreshMargin sets how long before expiry a token is renewed.
func WithRefreshMargin(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.margin = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Provider holds a login session and hands out access tokens.
type Provider struct {
	client Client
	clock  clockwork.Clock
	margin time.Duration
	logger *slog.Logger

	refresh singleflight.Group

	mu           sync.RWMutex
	session      *Session
	accessToken  string
	refreshToken string
}

// NewProvider creates a provider with no session.
func NewProvider(client Client, opts ...Option) *Provider {
	p := &Provider{
		client: client,
		clock:  clockwork.NewRealClock(),
		margin: DefaultRefreshMargin,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "auth")
	return p
}

// Login signs in and stores the returned token pair.
func (p *Provider) Login(ctx context.Context, user, password string) (Session, error) {
	resp, err := p.client.Login(ctx, api.LoginRequest{EmailOrUserName: user, Password: password})
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	s := p.store(resp)
	p.logger.Info("signed in", "user", s.UserName, "expires_at", s.ExpiresAt)
	return s, nil
}

// Register creates an account and signs in as it.
func (p *Provider) Register(ctx context.Context, req api.RegisterRequest) (Session, error) {
	resp, err := p.client.Register(ctx, req)
	if err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	return p.store(resp), nil
}

// Token returns the access token, renewing it first when it expires within
// the refresh margin. A failed renewal ends the session.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	session, token := p.session, p.accessToken
	p.mu.RUnlock()

	if session == nil {
		return "", ErrNotAuthenticated
	}
	if session.ExpiresAt.IsZero() || p.clock.Now().Add(p.margin).Before(session.ExpiresAt) {
		return token, nil
	}

	v, err, _ := p.refresh.Do("refresh", func() (any, error) {
		return p.renew(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Logout revokes the refresh token (best-effort) and forgets the session.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	refresh := p.refreshToken
	p.clearLocked()
	p.mu.Unlock()

	if refresh == "" {
		return nil
	}
	if err := p.client.Logout(ctx, refresh); err != nil {
		p.logger.Debug("logout request failed", "error", err)
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Authenticated reports whether a session exists. The token may still need
// renewal.
func (p *Provider) Authenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session != nil
}

// Session returns the current session, if any.
func (p *Provider) Session() (Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return Session{}, false
	}
	return *p.session, true
}

func (p *Provider) renew(ctx context.Context) (string, error) {
	p.mu.RLock()
	refresh := p.refreshToken
	session := p.session
	token := p.accessToken
	p.mu.RUnlock()

	if session == nil {
		return "", ErrNotAuthenticated
	}
	// Another caller may have renewed while we waited.
	if p.clock.Now().Add(p.margin).Before(session.ExpiresAt) {
		return token, nil
	}
	if refresh == "" {
		p.expire()
		return "", ErrSessionExpired
	}

	resp, err := p.client.RefreshToken(ctx, refresh)
	if err != nil {
		p.logger.Debug("token refresh failed", "error", err)
		p.expire()
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	s := p.store(resp)
	p.logger.Debug("token refreshed", "expires_at", s.ExpiresAt)
	return resp.AccessToken, nil
}

func (p *Provider) store(resp *api.AuthResponse) Session {
	s := &Session{
		UserID:    resp.UserID,
		UserName:  resp.UserName,
		FullName:  resp.FullName,
		ExpiresAt: tokenExpiry(resp.AccessToken, resp.AccessTokenExpiration.Time),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Refresh responses may omit the profile.
	if p.session != nil && s.UserID == "" {
		s.UserID, s.UserName, s.FullName = p.session.UserID, p.session.UserName, p.session.FullName
	}
	p.session = s
	p.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		p.refreshToken = resp.RefreshToken
	}
	return *s
}

func (p *Provider) expire() {
	p.mu.Lock()
	p.clearLocked()
	p.mu.Unlock()
}

func (p *Provider) clearLocked() {
	p.session = nil
	p.accessToken = ""
	p.refreshToken = ""
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server is the one that verifies. fallback is used when the token is not
// a JWT or carries no exp.
func tokenExpiry(token string, fallback time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}
