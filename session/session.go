// Package session keeps an authenticated API session alive: it stores the
// access and refresh tokens, refreshes the access token before it expires,
// and recovers requests rejected with an expired token through a single
// shared refresh.
//
// A Session is created with New, used through Do and AwaitReady, and
// disposed with Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Session ties the token store, scheduler, refresh coordinator, request
// gate and bootstrapper together.
type Session struct {
	store       *TokenStore
	scheduler   *ExpiryScheduler
	coordinator *RefreshCoordinator
	gate        *RequestGate
	boot        *bootstrapper
	state       *stateHolder
	clock       Clock
	log         zerolog.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Session refreshing tokens through refresher. Stored tokens
// are loaded immediately; the session is restored on the first AwaitReady.
func New(refresher Refresher, opts ...Option) (*Session, error) {
	if refresher == nil {
		return nil, errors.New("session: refresher is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.doer == nil {
		client, err := retry.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		o.doer = client
	}

	base, cancel := context.WithCancel(context.Background())
	state := &stateHolder{state: StateBootstrapping, observer: o.observer}
	store := NewTokenStore(o.storage, o.log.With().Str("component", "token_store").Logger())

	coordinator := &RefreshCoordinator{
		base:      base,
		store:     store,
		refresher: refresher,
		timeout:   o.refreshTimeout,
		state:     state,
		observer:  o.observer,
		clock:     o.clock,
		log:       o.log.With().Str("component", "refresh").Logger(),
	}

	scheduler := NewExpiryScheduler(o.clock, func() {
		coordinator.Refresh(base)
	}, o.log.With().Str("component", "scheduler").Logger())

	store.timer = scheduler
	store.Load()

	s := &Session{
		store:       store,
		scheduler:   scheduler,
		coordinator: coordinator,
		state:       state,
		clock:       o.clock,
		log:         o.log,
		cancel:      cancel,
		gate: &RequestGate{
			doer:        o.doer,
			store:       store,
			coordinator: coordinator,
			publicPaths: o.publicPaths,
			authFailure: o.authFailure,
			timeout:     o.requestTimeout,
			observer:    o.observer,
			log:         o.log.With().Str("component", "gate").Logger(),
		},
		boot: &bootstrapper{
			base:        base,
			store:       store,
			coordinator: coordinator,
			state:       state,
			clock:       o.clock,
			log:         o.log.With().Str("component", "bootstrap").Logger(),
			done:        make(chan struct{}),
		},
	}
	return s, nil
}

// AwaitReady restores the session on first call and returns the resulting
// state. Concurrent callers share one restore attempt.
func (s *Session) AwaitReady(ctx context.Context) (State, error) {
	return s.boot.await(ctx)
}

// State returns the current state. It is StateBootstrapping until the
// first AwaitReady completes.
func (s *Session) State() State {
	return s.state.get()
}

// IsAuthenticated reports whether the session holds an access token and
// is in the authenticated state.
func (s *Session) IsAuthenticated() bool {
	return s.state.get() == StateAuthenticated && s.store.Access() != ""
}

// Login installs a freshly issued token pair, as returned by login or
// signup, replacing any previous session.
func (s *Session) Login(pair TokenPair) {
	s.store.SetPair(pair)
	s.state.set(StateAuthenticated)
	s.log.Info().Msg("logged in")
}

// Logout clears the tokens and cancels the scheduled refresh. A refresh in
// flight finishes but its result is discarded.
func (s *Session) Logout() {
	s.store.Clear()
	s.state.set(StateUnauthenticated)
	s.log.Info().Msg("logged out")
}

// Do sends req through the request gate.
func (s *Session) Do(req *http.Request) (*Response, error) {
	return s.gate.Do(req)
}

// Refresh forces a token refresh, joining one already in flight.
func (s *Session) Refresh(ctx context.Context) Outcome {
	return s.coordinator.Refresh(ctx)
}

// Tokens exposes the token store for read access.
func (s *Session) Tokens() *TokenStore {
	return s.store
}

// NextRefresh reports when the scheduled refresh fires, if one is armed.
func (s *Session) NextRefresh() (at time.Time, ok bool) {
	return s.scheduler.Armed()
}

// Close disposes the session: the timer is cancelled, an outstanding
// refresh is aborted and no new refresh starts. Stored tokens are kept.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.coordinator.close()
		s.scheduler.Cancel()
		s.cancel()
	})
	return nil
}

// TokenSource returns an oauth2.TokenSource over the session's access
// token, refreshing it first when it is no longer usable.
func (s *Session) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{s: s}
}

type sessionTokenSource struct {
	s *Session
}

func (ts sessionTokenSource) Token() (*oauth2.Token, error) {
	access := ts.s.store.Access()
	if access == "" || expired(access, ts.s.clock.Now()) {
		switch o := ts.s.coordinator.Refresh(context.Background()).(type) {
		case Retry:
			access = o.Token
		case Fail:
			return nil, o.Err
		}
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp := DecodeExpiry(access); exp.OK {
		tok.Expiry = exp.ExpiresAt
	}
	return tok, nil
}
