package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-authgate/admin-session/session"
)

// PublicEndpointError is a non-2xx answer from a public auth endpoint,
// such as invalid credentials. It never means the session expired.
type PublicEndpointError struct {
	StatusCode  int
	Code        string
	Description string
	Body        []byte
}

func (e *PublicEndpointError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, string(e.Body))
}

// StatusError is a non-2xx answer from a protected endpoint that is not an
// authorization failure.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, string(e.Body))
}

// Credentials identify a user at login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup describes a new account.
type Signup struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (session.TokenPair, error) {
	return c.tokens(ctx, "/auth/login", creds)
}

// Signup creates an account and returns its first token pair.
func (c *Client) Signup(ctx context.Context, s Signup) (session.TokenPair, error) {
	return c.tokens(ctx, "/auth/signup", s)
}

// ForgotPassword asks the server to send a reset link to email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.public(ctx, "/auth/forgot-password", map[string]string{"email": email}, nil)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, resetToken, password string) error {
	return c.public(ctx, "/auth/reset-password", map[string]string{
		"token":    resetToken,
		"password": password,
	}, nil)
}

func (c *Client) tokens(ctx context.Context, path string, in any) (session.TokenPair, error) {
	var tokenResp session.TokenResponse
	if err := c.public(ctx, path, in, &tokenResp); err != nil {
		return session.TokenPair{}, err
	}
	if err := tokenResp.Validate(); err != nil {
		return session.TokenPair{}, fmt.Errorf("invalid token response: %w", err)
	}
	return tokenResp.Pair(), nil
}

func (c *Client) public(ctx context.Context, path string, in, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &PublicEndpointError{StatusCode: resp.StatusCode, Body: resp.Body}
		var errResp session.ErrorResponse
		if json.Unmarshal(resp.Body, &errResp) == nil {
			perr.Code = errResp.Error
			perr.Description = errResp.ErrorDescription
		}
		return perr
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
