package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new access token. The returned
// token's RefreshToken is empty when the server does not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// flight is one outstanding refresh. At most one exists at a time.
type flight struct {
	startedAt  time.Time
	generation uint64
	queue      []*pendingRequest
	done       chan struct{}
	outcome    Outcome
}

// RefreshCoordinator makes sure at most one refresh call is outstanding and
// hands its outcome to everyone waiting on it.
type RefreshCoordinator struct {
	base      context.Context
	store     *TokenStore
	refresher Refresher
	timeout   time.Duration
	state     *stateHolder
	observer  Observer
	clock     Clock
	log       zerolog.Logger

	mu      sync.Mutex
	current *flight
	closed  bool
}

// Refresh returns the outcome of the outstanding refresh, starting one if
// none is in flight. ctx only bounds the wait; the refresh call itself is
// bounded by the refresh timeout and shared with the other waiters.
func (c *RefreshCoordinator) Refresh(ctx context.Context) Outcome {
	f := c.join()
	if f == nil {
		return Fail{Err: ErrClosed}
	}

	select {
	case <-f.done:
		return f.outcome
	case <-ctx.Done():
		return Fail{Err: ctx.Err()}
	}
}

// InFlight reports whether a refresh is outstanding.
func (c *RefreshCoordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// enqueue parks p on the outstanding refresh. It returns false when no
// refresh is in flight, in which case p will never receive an outcome.
func (c *RefreshCoordinator) enqueue(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return false
	}
	c.current.queue = append(c.current.queue, p)
	return true
}

func (c *RefreshCoordinator) join() *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.current != nil {
		return c.current
	}

	// token and generation are captured together, once, at the start
	refreshToken, generation := c.store.snapshot()
	f := &flight{
		startedAt:  c.clock.Now(),
		generation: generation,
		done:       make(chan struct{}),
	}
	c.current = f
	go c.run(f, refreshToken)
	return f
}

func (c *RefreshCoordinator) run(f *flight, refreshToken string) {
	outcome := c.attempt(f, refreshToken)

	c.mu.Lock()
	f.outcome = outcome
	c.current = nil
	queue := f.queue
	f.queue = nil
	close(f.done)
	c.mu.Unlock()

	for _, p := range queue {
		p.deliver(outcome)
	}

	c.log.Debug().
		Dur("took", c.clock.Now().Sub(f.startedAt)).
		Int("queued", len(queue)).
		Msg("token refresh settled")
}

func (c *RefreshCoordinator) attempt(f *flight, refreshToken string) Outcome {
	if refreshToken == "" {
		return c.fail(f, &RefreshError{Terminal: true, Err: ErrNoRefreshToken})
	}

	c.observer.Refreshing()

	ctx, cancel := context.WithTimeout(c.base, c.timeout)
	defer cancel()

	token, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return c.fail(f, c.classify(err))
	}

	pair := TokenPair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if !c.store.applyRefresh(f.generation, pair) {
		c.log.Info().Msg("session changed during refresh, discarding refreshed tokens")
		return Fail{Err: ErrSessionChanged}
	}

	c.state.set(StateAuthenticated)
	c.observer.Refreshed()
	c.log.Info().Bool("rotated", token.RefreshToken != "").Msg("access token refreshed")
	return Retry{Token: token.AccessToken}
}

func (c *RefreshCoordinator) fail(f *flight, rerr *RefreshError) Outcome {
	if rerr.Terminal {
		switch c.store.clearIf(f.generation) {
		case clearStale:
			c.log.Info().Err(rerr).Msg("stale refresh token rejected after session changed")
			return Fail{Err: ErrSessionChanged}
		case alreadyEmpty:
			// the session already ended; the observer heard about it then
			c.state.set(StateUnauthenticated)
			c.log.Debug().Err(rerr).Msg("no session to refresh")
			return Fail{Err: rerr}
		}
		c.state.set(StateUnauthenticated)
		c.log.Warn().Err(rerr).Msg("refresh token rejected, session cleared")
	} else {
		c.log.Warn().Err(rerr).Msg("token refresh failed, keeping tokens")
	}

	c.observer.RefreshFailed(rerr)
	return Fail{Err: rerr}
}

// terminalRefreshStatuses are the refresh endpoint answers meaning the
// refresh token itself was refused.
var terminalRefreshStatuses = newStatusSet(http.StatusUnauthorized, http.StatusForbidden)

// classify splits refresh errors into terminal (the refresh token is no
// good) and transient (try again on the next trigger).
func (c *RefreshCoordinator) classify(err error) *RefreshError {
	rerr := &RefreshError{Err: err}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		rerr.StatusCode = retrieveErr.Response.StatusCode
	}

	switch {
	case errors.Is(err, ErrRefreshTokenExpired), errors.Is(err, ErrNoRefreshToken):
		rerr.Terminal = true
	case rerr.StatusCode != 0:
		rerr.Terminal = terminalRefreshStatuses.has(rerr.StatusCode)
	}
	return rerr
}

// close stops new refreshes from starting. An outstanding one is cancelled
// through the base context by the owner.
func (c *RefreshCoordinator) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
