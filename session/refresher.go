package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RefreshPath is the refresh endpoint, relative to the API base URL.
const RefreshPath = "/auth/refresh"

// ErrorResponse is the error body returned by the auth endpoints.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TokenResponse is the body returned by login, signup and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// Validate checks a token response before it is stored.
func (t *TokenResponse) Validate() error {
	if t.AccessToken == "" {
		return errors.New("access_token is empty")
	}

	if len(t.AccessToken) < 10 {
		return fmt.Errorf("access_token is too short (length: %d)", len(t.AccessToken))
	}

	// expires_in is optional, the access token carries its own exp
	if t.ExpiresIn < 0 {
		return fmt.Errorf("expires_in must not be negative, got: %d", t.ExpiresIn)
	}

	if t.TokenType != "" && !strings.EqualFold(t.TokenType, "Bearer") {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", t.TokenType)
	}

	return nil
}

// Pair returns the tokens of the response.
func (t *TokenResponse) Pair() TokenPair {
	return TokenPair{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
}

// HTTPRefresher calls the JSON refresh endpoint of the admin API.
type HTTPRefresher struct {
	baseURL string
	doer    Doer
}

// NewHTTPRefresher returns a Refresher posting to baseURL + RefreshPath.
func NewHTTPRefresher(baseURL string, doer Doer) *HTTPRefresher {
	return &HTTPRefresher{baseURL: strings.TrimSuffix(baseURL, "/"), doer: doer}
}

// Refresh exchanges refreshToken for a new access token.
//
// A non-2xx answer is returned as *oauth2.RetrieveError. When the server
// says the refresh token is invalid (invalid_grant or invalid_token) the
// error also matches ErrRefreshTokenExpired.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		r.baseURL+RefreshPath,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.doer.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retrieveErr := &oauth2.RetrieveError{Response: resp, Body: body}

		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			retrieveErr.ErrorCode = errResp.Error
			retrieveErr.ErrorDescription = errResp.ErrorDescription
			if errResp.Error == "invalid_grant" || errResp.Error == "invalid_token" {
				return nil, fmt.Errorf("%w: %w", ErrRefreshTokenExpired, retrieveErr)
			}
		}
		return nil, retrieveErr
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if err := tokenResp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	token := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else if exp := DecodeExpiry(tokenResp.AccessToken); exp.OK {
		token.Expiry = exp.ExpiresAt
	}
	return token, nil
}
