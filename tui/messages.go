package tui

import (
	"time"

	"github.com/go-authgate/admin-session/session"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgRestoring signals that the stored session is being restored.
type MsgRestoring struct{}

// MsgRestored signals that startup restore finished.
type MsgRestored struct{ State session.State }

// MsgStateChanged signals a session state transition.
type MsgStateChanged struct{ State session.State }

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRequestRejected signals that a request's access token was rejected.
type MsgRequestRejected struct{ Method, Path string }

// MsgRequestReplayed signals that a rejected request was replayed successfully.
type MsgRequestReplayed struct{ Method, Path string }

// MsgLoggedIn signals a successful login.
type MsgLoggedIn struct{ Email string }

// MsgLoggedOut signals that the stored session was cleared.
type MsgLoggedOut struct{}

// MsgSessionExpired signals that the user has to log in again.
type MsgSessionExpired struct{}

// MsgListing signals that a resource listing started.
type MsgListing struct{ Resource string }

// MsgListed signals that a resource listing finished.
type MsgListed struct {
	Resource string
	Count    int
}

// MsgAPICallFailed signals that an API call failed.
type MsgAPICallFailed struct{ Err error }

// MsgNextRefresh signals when the scheduled refresh fires.
type MsgNextRefresh struct{ At time.Time }

// MsgDone signals the command finished.
type MsgDone struct {
	State       session.State
	TokenExpiry time.Time
}

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
