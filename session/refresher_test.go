package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newRefreshServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post(RefreshPath, handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPRefresher_Success(t *testing.T) {
	access := makeJWT(t, time.Now().Add(time.Hour).Truncate(time.Second))
	var got map[string]string

	srv := newRefreshServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, TokenResponse{
			AccessToken:  access,
			RefreshToken: "refresh-2",
			TokenType:    "Bearer",
		})
	})

	tok, err := NewHTTPRefresher(srv.URL+"/", HTTPDoer{Client: srv.Client()}).
		Refresh(context.Background(), "refresh-1")

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"refresh_token": "refresh-1"}, got)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(DecodeExpiry(access).ExpiresAt), "expiry read from the token")
}

func TestHTTPRefresher_ExpiresIn(t *testing.T) {
	srv := newRefreshServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "opaque-access-token", ExpiresIn: 600})
	})

	before := time.Now()
	tok, err := NewHTTPRefresher(srv.URL, HTTPDoer{Client: srv.Client()}).
		Refresh(context.Background(), "refresh-1")

	require.NoError(t, err)
	assert.Empty(t, tok.RefreshToken, "no rotation")
	assert.WithinDuration(t, before.Add(10*time.Minute), tok.Expiry, 5*time.Second)
}

func TestHTTPRefresher_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        any
		wantExpired bool
		wantCode    string
	}{
		{
			name:        "invalid_grant",
			status:      http.StatusBadRequest,
			body:        ErrorResponse{Error: "invalid_grant", ErrorDescription: "refresh token revoked"},
			wantExpired: true,
			wantCode:    "invalid_grant",
		},
		{
			name:        "invalid_token",
			status:      http.StatusUnauthorized,
			body:        ErrorResponse{Error: "invalid_token"},
			wantExpired: true,
			wantCode:    "invalid_token",
		},
		{
			name:   "plain 401",
			status: http.StatusUnauthorized,
			body:   map[string]string{"message": "unauthorized"},
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     ErrorResponse{Error: "server_error"},
			wantCode: "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRefreshServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := NewHTTPRefresher(srv.URL, HTTPDoer{Client: srv.Client()}).
				Refresh(context.Background(), "refresh-1")

			require.Error(t, err)
			assert.Equal(t, tt.wantExpired, errors.Is(err, ErrRefreshTokenExpired))

			var retrieveErr *oauth2.RetrieveError
			require.True(t, errors.As(err, &retrieveErr))
			assert.Equal(t, tt.status, retrieveErr.Response.StatusCode)
			assert.Equal(t, tt.wantCode, retrieveErr.ErrorCode)
		})
	}
}

func TestHTTPRefresher_InvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>"},
		{name: "empty token", body: `{"access_token":""}`},
		{name: "short token", body: `{"access_token":"abc"}`},
		{name: "wrong type", body: `{"access_token":"abcdefghijkl","token_type":"mac"}`},
		{name: "negative expiry", body: `{"access_token":"abcdefghijkl","expires_in":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRefreshServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewHTTPRefresher(srv.URL, HTTPDoer{Client: srv.Client()}).
				Refresh(context.Background(), "refresh-1")

			require.Error(t, err)
			var retrieveErr *oauth2.RetrieveError
			assert.False(t, errors.As(err, &retrieveErr))
		})
	}
}

func TestSession_EndToEndWithHTTPRefresher(t *testing.T) {
	api := newTestAPI(t, "")
	fresh := makeJWT(t, epoch.Add(time.Hour))
	api.setValid(fresh)

	var (
		mu      sync.Mutex
		current = "refresh-1"
	)
	refreshSrv := newRefreshServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		defer mu.Unlock()
		if body["refresh_token"] != current {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_grant"})
			return
		}
		current = "refresh-2"
		writeJSON(w, http.StatusOK, TokenResponse{AccessToken: fresh, RefreshToken: current})
	})

	s, err := New(
		NewHTTPRefresher(refreshSrv.URL, HTTPDoer{Client: refreshSrv.Client()}),
		WithClock(newFakeClock()),
		WithDoer(HTTPDoer{Client: api.srv.Client()}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.Login(TokenPair{AccessToken: makeJWT(t, epoch.Add(time.Hour)), RefreshToken: "refresh-1"})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.srv.URL+"/api/items", nil)
	require.NoError(t, err)
	resp, err := s.Do(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "refresh-2", s.Tokens().Refresh())

	// the rotated-away token is rejected as invalid_grant, which ends the session
	s.Tokens().SetRefresh("refresh-1")
	api.setValid("something-else")
	_, err = s.Do(req)
	assert.True(t, LoggedOut(err), "err = %v", err)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestTokenResponse_Validate(t *testing.T) {
	tests := []struct {
		name        string
		accessToken string
		tokenType   string
		expiresIn   int
		wantErr     bool
		errContains string
	}{
		{
			name:        "valid token response",
			accessToken: "valid-access-token-123456",
			tokenType:   "Bearer",
			expiresIn:   3600,
		},
		{
			name:        "valid token with empty type (optional field)",
			accessToken: "valid-access-token-123456",
		},
		{
			name:        "lowercase bearer",
			accessToken: "valid-access-token-123456",
			tokenType:   "bearer",
		},
		{
			name:        "empty access token",
			tokenType:   "Bearer",
			wantErr:     true,
			errContains: "access_token is empty",
		},
		{
			name:        "access token too short",
			accessToken: "short",
			wantErr:     true,
			errContains: "access_token is too short",
		},
		{
			name:        "negative expires_in",
			accessToken: "valid-access-token-123456",
			expiresIn:   -3600,
			wantErr:     true,
			errContains: "expires_in must not be negative",
		},
		{
			name:        "invalid token type",
			accessToken: "valid-access-token-123456",
			tokenType:   "Basic",
			wantErr:     true,
			errContains: "unexpected token_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := TokenResponse{AccessToken: tt.accessToken, TokenType: tt.tokenType, ExpiresIn: tt.expiresIn}
			err := resp.Validate()

			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error but got nil")
					return
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errContains)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}
