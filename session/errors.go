package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTerminalRefresh matches refresh failures after which the session is over.
	ErrTerminalRefresh = errors.New("session: refresh token rejected")
	// ErrTransientRefresh matches refresh failures that leave the tokens usable.
	ErrTransientRefresh = errors.New("session: refresh temporarily failed")
	// ErrRetryExhausted matches a request rejected again after refresh and replay.
	ErrRetryExhausted = errors.New("session: request unauthorized after refresh")
	// ErrRefreshTokenExpired is returned by a Refresher when the server
	// reports the refresh token itself as expired or invalid.
	ErrRefreshTokenExpired = errors.New("refresh token expired or invalid")
	// ErrNoRefreshToken means there was nothing to refresh with.
	ErrNoRefreshToken = errors.New("session: no refresh token")
	// ErrSessionChanged means the session was cleared or replaced while a
	// refresh was in flight; its result was discarded.
	ErrSessionChanged = errors.New("session: session changed during refresh")
	// ErrClosed is returned once the Session has been closed.
	ErrClosed = errors.New("session: closed")
)

// RefreshError describes a failed refresh attempt.
type RefreshError struct {
	Terminal   bool
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RefreshError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s refresh failure (status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s refresh failure: %v", kind, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool {
	switch target {
	case ErrTerminalRefresh:
		return e.Terminal
	case ErrTransientRefresh:
		return !e.Terminal
	}
	return false
}

// UnauthorizedError is returned for a protected request whose authorization
// failure could not be recovered by a refresh.
type UnauthorizedError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Cause is the refresh failure, nil when the replay itself was rejected.
	Cause error
	// Retried is set when the request was already replayed once.
	Retried bool
}

func (e *UnauthorizedError) Error() string {
	if e.Retried {
		return fmt.Sprintf("unauthorized (status %d) after token refresh", e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("unauthorized (status %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("unauthorized (status %d)", e.StatusCode)
}

func (e *UnauthorizedError) Unwrap() error { return e.Cause }

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrRetryExhausted && e.Retried
}

// LoggedOut reports whether err means the user has to sign in again:
// a terminal refresh failure or a request still rejected after refresh.
func LoggedOut(err error) bool {
	return errors.Is(err, ErrTerminalRefresh) || errors.Is(err, ErrRetryExhausted)
}
