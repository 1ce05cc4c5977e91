package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// bootstrapper restores the session once at startup.
type bootstrapper struct {
	base        context.Context
	store       *TokenStore
	coordinator *RefreshCoordinator
	state       *stateHolder
	clock       Clock
	log         zerolog.Logger

	once   sync.Once
	done   chan struct{}
	result State
}

// await starts the restore on first use and waits for it. Every caller
// gets the same State.
func (b *bootstrapper) await(ctx context.Context) (State, error) {
	b.once.Do(func() { go b.run() })

	select {
	case <-b.done:
		return b.result, nil
	case <-ctx.Done():
		return StateBootstrapping, ctx.Err()
	}
}

func (b *bootstrapper) run() {
	b.result = b.state.settle(b.restore())
	close(b.done)
}

func (b *bootstrapper) restore() State {
	if access := b.store.Access(); usable(access, b.clock.Now()) {
		b.store.rearm()
		b.log.Debug().Msg("restored session from stored access token")
		return StateAuthenticated
	}

	if b.store.Refresh() == "" {
		b.log.Debug().Msg("no stored session")
		return StateUnauthenticated
	}

	switch o := b.coordinator.Refresh(b.base).(type) {
	case Retry:
		b.log.Info().Msg("restored session by refreshing")
		return StateAuthenticated
	case Fail:
		// A transient failure keeps the tokens; the next rejected request
		// tries again through the gate.
		b.log.Info().Err(o.Err).Msg("could not restore session")
		return StateUnauthenticated
	default:
		return StateUnauthenticated
	}
}
