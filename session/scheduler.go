package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExpiryScheduler keeps a single one-shot timer that refreshes the access
// token shortly before it expires.
type ExpiryScheduler struct {
	clock   Clock
	trigger func()
	log     zerolog.Logger

	mu            sync.Mutex
	seq           uint64
	cancel        func() bool
	due           time.Time
	lastImmediate time.Time
}

// NewExpiryScheduler returns a scheduler calling trigger when a token is
// about to expire.
func NewExpiryScheduler(clock Clock, trigger func(), log zerolog.Logger) *ExpiryScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ExpiryScheduler{clock: clock, trigger: trigger, log: log}
}

// Arm replaces any armed timer with one for token. A token that is already
// inside the refresh buffer triggers a refresh right away, at most once per
// MinRefreshInterval.
func (s *ExpiryScheduler) Arm(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(token)
}

func (s *ExpiryScheduler) armLocked(token string) {
	s.cancelLocked()
	seq := s.seq

	now := s.clock.Now()
	delay := refreshDelay(token, now)
	if delay <= 0 {
		if since := now.Sub(s.lastImmediate); !s.lastImmediate.IsZero() && since < MinRefreshInterval {
			delay = MinRefreshInterval - since
			s.log.Warn().Dur("in", delay).Msg("access token lifetime is shorter than the refresh buffer, delaying refresh")
		} else {
			s.lastImmediate = now
			s.log.Debug().Dur("overdue", -delay).Msg("access token inside refresh buffer, refreshing now")
			// never synchronous: Arm runs under the token store lock
			go s.fire(seq)
			return
		}
	}

	s.due = now.Add(delay)
	s.cancel = s.clock.AfterFunc(delay, func() { s.fire(seq) })
	s.log.Debug().Dur("in", delay).Time("at", s.due).Msg("token refresh scheduled")
}

// Cancel disarms the timer. Safe to call when nothing is armed.
func (s *ExpiryScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Armed reports whether a timer is pending and when it fires.
func (s *ExpiryScheduler) Armed() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, s.cancel != nil
}

func (s *ExpiryScheduler) cancelLocked() {
	// bumping seq also invalidates a timer that already fired but has
	// not reached fire yet
	s.seq++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.due = time.Time{}
}

func (s *ExpiryScheduler) fire(seq uint64) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	s.due = time.Time{}
	s.mu.Unlock()

	s.log.Debug().Msg("scheduled token refresh firing")
	s.trigger()
}
