package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// TokenPair is an access token and its (optional) refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// timer is the part of the scheduler the store drives.
type timer interface {
	Arm(token string)
	Cancel()
}

// TokenStore holds the current token pair. It is the only place tokens
// live; everything else reads through its accessors.
//
// Writes go through to the Storage backend. Backend failures are logged and
// otherwise ignored, leaving the in-memory value in effect.
type TokenStore struct {
	mu         sync.RWMutex
	access     string
	refresh    string
	generation uint64

	storage Storage
	timer   timer
	log     zerolog.Logger
}

// NewTokenStore creates a store persisting to storage.
func NewTokenStore(storage Storage, log zerolog.Logger) *TokenStore {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &TokenStore{storage: storage, log: log}
}

// Load hydrates the store from its backend without arming the scheduler.
func (s *TokenStore) Load() {
	access := s.load(KeyAccessToken)
	refresh := s.load(KeyRefreshToken)

	s.mu.Lock()
	s.access, s.refresh = access, refresh
	s.mu.Unlock()
}

func (s *TokenStore) load(key string) string {
	v, err := s.storage.Load(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to load token, ignoring stored value")
		}
		return ""
	}
	return v
}

// Access returns the access token, or "" when there is none.
func (s *TokenStore) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Refresh returns the refresh token, or "" when there is none.
func (s *TokenStore) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Generation changes every time the session is replaced or cleared.
func (s *TokenStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetAccess stores a new access token and re-arms the scheduler.
func (s *TokenStore) SetAccess(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = token
	s.persist(KeyAccessToken, token)
	s.arm(token)
}

// SetRefresh stores a new refresh token.
func (s *TokenStore) SetRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh = token
	s.persist(KeyRefreshToken, token)
}

// SetPair replaces the whole session, as after login or signup.
func (s *TokenStore) SetPair(pair TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.access, s.refresh = pair.AccessToken, pair.RefreshToken
	s.persist(KeyAccessToken, pair.AccessToken)
	s.persist(KeyRefreshToken, pair.RefreshToken)
	s.arm(pair.AccessToken)
}

// Clear removes both tokens and cancels the scheduler.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
}

// clearResult reports what clearIf did.
type clearResult int

const (
	cleared      clearResult = iota
	clearStale               // session changed since generation
	alreadyEmpty             // nothing stored, nothing to clear
)

// clearIf clears the store if it is still at generation.
func (s *TokenStore) clearIf(generation uint64) clearResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return clearStale
	}
	if s.access == "" && s.refresh == "" {
		return alreadyEmpty
	}
	s.clearLocked()
	return cleared
}

func (s *TokenStore) clearLocked() {
	s.generation++
	s.access, s.refresh = "", ""
	s.persist(KeyAccessToken, "")
	s.persist(KeyRefreshToken, "")
	if s.timer != nil {
		s.timer.Cancel()
	}
}

// applyRefresh stores a refreshed pair if the session is still the one the
// refresh started from. An empty refresh token keeps the current one.
func (s *TokenStore) applyRefresh(generation uint64, pair TokenPair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return false
	}
	s.access = pair.AccessToken
	s.persist(KeyAccessToken, pair.AccessToken)
	if pair.RefreshToken != "" && pair.RefreshToken != s.refresh {
		s.refresh = pair.RefreshToken
		s.persist(KeyRefreshToken, pair.RefreshToken)
	}
	s.arm(pair.AccessToken)
	return true
}

// arm must be called with s.mu held so timer state follows token state.
func (s *TokenStore) arm(token string) {
	if s.timer == nil {
		return
	}
	if token == "" {
		s.timer.Cancel()
		return
	}
	s.timer.Arm(token)
}

func (s *TokenStore) persist(key, value string) {
	var err error
	if value == "" {
		err = s.storage.Delete(key)
	} else {
		err = s.storage.Save(key, value)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to persist token, keeping it in memory only")
	}
}

// snapshot returns the refresh token together with the generation it belongs to.
func (s *TokenStore) snapshot() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh, s.generation
}

// rearm arms the scheduler for the current access token.
func (s *TokenStore) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arm(s.access)
}
