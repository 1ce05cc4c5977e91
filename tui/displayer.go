package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/admin-session/session"
)

// Displayer abstracts all output of the CLI. It also observes the session
// so refreshes and replays show up as they happen.
type Displayer interface {
	session.Observer

	Banner()
	Restoring()
	Restored(state session.State)
	LoggedIn(email string)
	LoggedOut()
	SessionExpired()
	Listing(resource string)
	Listed(resource string, count int)
	APICallFailed(err error)
	NextRefresh(at time.Time)
	Done(state session.State, tokenExpiry time.Time)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== AuthGate Admin ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Restoring() {
	fmt.Fprintln(p.w, "Restoring session...")
}

func (p *PlainDisplayer) Restored(state session.State) {
	fmt.Fprintf(p.w, "Session %s\n", state)
}

func (p *PlainDisplayer) StateChanged(state session.State) {
	if state == session.StateUnauthenticated {
		fmt.Fprintln(p.w, "Session ended")
	}
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) Refreshed() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) RequestRejected(method, path string) {
	fmt.Fprintf(p.w, "Access token rejected for %s %s, refreshing...\n", method, path)
}

func (p *PlainDisplayer) RequestReplayed(method, path string) {
	fmt.Fprintf(p.w, "Retried %s %s with new token\n", method, path)
}

func (p *PlainDisplayer) LoggedIn(email string) {
	fmt.Fprintf(p.w, "Logged in as %s\n", email)
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Logged out")
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "You have been logged out, please run 'login' again.")
}

func (p *PlainDisplayer) Listing(resource string) {
	fmt.Fprintf(p.w, "Fetching %s...\n", resource)
}

func (p *PlainDisplayer) Listed(resource string, count int) {
	fmt.Fprintf(p.w, "%s: %d\n", resource, count)
}

func (p *PlainDisplayer) APICallFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) NextRefresh(at time.Time) {
	fmt.Fprintf(p.w, "Next token refresh in %s\n", time.Until(at).Round(time.Second))
}

func (p *PlainDisplayer) Done(state session.State, tokenExpiry time.Time) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Session:    %s\n", state)
	if !tokenExpiry.IsZero() {
		fmt.Fprintf(p.w, "Expires In: %s\n", time.Until(tokenExpiry).Round(time.Second))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct {
	session.NopObserver
}

func (NoopDisplayer) Banner()                           {}
func (NoopDisplayer) Restoring()                        {}
func (NoopDisplayer) Restored(_ session.State)          {}
func (NoopDisplayer) LoggedIn(_ string)                 {}
func (NoopDisplayer) LoggedOut()                        {}
func (NoopDisplayer) SessionExpired()                   {}
func (NoopDisplayer) Listing(_ string)                  {}
func (NoopDisplayer) Listed(_ string, _ int)            {}
func (NoopDisplayer) APICallFailed(_ error)             {}
func (NoopDisplayer) NextRefresh(_ time.Time)           {}
func (NoopDisplayer) Done(_ session.State, _ time.Time) {}
func (NoopDisplayer) Fatal(_ error)                     {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) Restoring() {
	t.p.Send(MsgRestoring{})
}

func (t *ProgramDisplayer) Restored(state session.State) {
	t.p.Send(MsgRestored{State: state})
}

func (t *ProgramDisplayer) StateChanged(state session.State) {
	t.p.Send(MsgStateChanged{State: state})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) Refreshed() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) RequestRejected(method, path string) {
	t.p.Send(MsgRequestRejected{Method: method, Path: path})
}

func (t *ProgramDisplayer) RequestReplayed(method, path string) {
	t.p.Send(MsgRequestReplayed{Method: method, Path: path})
}

func (t *ProgramDisplayer) LoggedIn(email string) {
	t.p.Send(MsgLoggedIn{Email: email})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) Listing(resource string) {
	t.p.Send(MsgListing{Resource: resource})
}

func (t *ProgramDisplayer) Listed(resource string, count int) {
	t.p.Send(MsgListed{Resource: resource, Count: count})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) NextRefresh(at time.Time) {
	t.p.Send(MsgNextRefresh{At: at})
}

func (t *ProgramDisplayer) Done(state session.State, tokenExpiry time.Time) {
	t.p.Send(MsgDone{State: state, TokenExpiry: tokenExpiry})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
