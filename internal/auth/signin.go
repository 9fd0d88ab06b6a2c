package auth

import (
	"context"
	"fmt"

	"github.com/rickgao/bidup-live/internal/config"
)

// SignIn picks a credential source from configuration. A pre-issued access
// token is served as is; a user and password log in through client; with
// neither the source is anonymous and every Token call fails with
// ErrNotAuthenticated.
func SignIn(ctx context.Context, cfg config.AuthConfig, client Client, opts ...Option) (Source, error) {
	if cfg.AccessToken != "" {
		return NewStatic(cfg.AccessToken, nil), nil
	}
	if cfg.User == "" {
		return NewStatic("", nil), nil
	}

	p := NewProvider(client, opts...)
	if _, err := p.Login(ctx, cfg.User, cfg.Password); err != nil {
		return nil, fmt.Errorf("sign in as %s: %w", cfg.User, err)
	}
	return p, nil
}
