package api

import (
	"context"
	"fmt"

	"github.com/rickgao/bidup-live/internal/model"
)

// LoginRequest is the body of POST /api/Auth/login.
type LoginRequest struct {
	EmailOrUserName string `json:"emailOrUserName"`
	Password        string `json:"password"`
}

// RegisterRequest is the body of POST /api/Auth/register.
type RegisterRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	UserName        string `json:"userName"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// AuthResponse is returned by login, register and refresh.
type AuthResponse struct {
	UserID                 string          `json:"userId"`
	Email                  string          `json:"email"`
	UserName               string          `json:"userName"`
	FullName               string          `json:"fullName"`
	AccessToken            string          `json:"accessToken"`
	RefreshToken           string          `json:"refreshToken"`
	AccessTokenExpiration  model.Timestamp `json:"accessTokenExpiration"`
	RefreshTokenExpiration model.Timestamp `json:"refreshTokenExpiration"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	return c.authCall(ctx, "/api/Auth/login", req)
}

// Register creates an account and returns a token pair.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	return c.authCall(ctx, "/api/Auth/register", req)
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	return c.authCall(ctx, "/api/Auth/refresh-token", refreshRequest{RefreshToken: refreshToken})
}

// Logout revokes a refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if err := c.post(ctx, "/api/Auth/logout", "", refreshRequest{RefreshToken: refreshToken}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) authCall(ctx context.Context, path string, body any) (*AuthResponse, error) {
	var resp *AuthResponse
	if err := c.post(ctx, path, "", body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%s: no data in response", path)
	}
	return resp, nil
}
