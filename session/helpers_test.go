package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at   time.Time
	fn   func()
	done bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.done {
			return false
		}
		t.done = true
		return true
	}
}

// Advance moves the clock and runs the timers that became due, outside the
// clock lock so they may arm new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Pending returns how many timers are still armed.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// makeJWT returns a signed token expiring at exp. Every call yields a
// distinct token.
func makeJWT(t testing.TB, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type refreshFunc func(call int, refreshToken string) (*oauth2.Token, error)

func issue(access, refresh string) refreshFunc {
	return func(int, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: access, RefreshToken: refresh}, nil
	}
}

func reject(status int) refreshFunc {
	return func(int, string) (*oauth2.Token, error) {
		return nil, &oauth2.RetrieveError{Response: &http.Response{StatusCode: status}}
	}
}

// fakeRefresher counts calls. When release is set, each call waits for it
// to be closed (or for its context to end) before answering.
type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	seen    []string
	release chan struct{}
	started chan struct{}
	fn      refreshFunc
}

func newFakeRefresher(fn refreshFunc) *fakeRefresher {
	return &fakeRefresher{fn: fn, started: make(chan struct{}, 16)}
}

// blocking makes every call wait until the returned func is called.
func (f *fakeRefresher) blocking() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.release = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.seen = append(f.seen, refreshToken)
	release, fn := f.release, f.fn
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fn(n, refreshToken)
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRefresher) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

// waitStarted blocks until a refresh call has begun.
func (f *fakeRefresher) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was never called")
	}
}

type recordingObserver struct {
	mu         sync.Mutex
	states     []State
	refreshing int
	refreshed  int
	failed     []error
	rejected   int
	replayed   int
}

func (o *recordingObserver) StateChanged(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) Refreshing() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshing++
}

func (o *recordingObserver) Refreshed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshed++
}

func (o *recordingObserver) RefreshFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func (o *recordingObserver) RequestRejected(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *recordingObserver) RequestReplayed(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replayed++
}

func (o *recordingObserver) Failed() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.failed...)
}

func (o *recordingObserver) Rejected() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rejected
}

func (o *recordingObserver) Replayed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replayed
}

// testAPI is an HTTP API accepting a single valid access token on its
// protected routes.
type testAPI struct {
	srv *httptest.Server

	mu        sync.Mutex
	valid     string
	auths     []string
	requestID []string
	hits      atomic.Int32
	// alwaysReject makes protected routes answer 401 whatever the token
	alwaysReject bool
}

func newTestAPI(t *testing.T, valid string) *testAPI {
	t.Helper()
	a := &testAPI{valid: valid}

	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.auths = append(a.auths, r.Header.Get("Authorization"))
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_credentials"}`))
	})
	r.Group(func(r chi.Router) {
		r.Use(a.requireToken)
		r.Get("/api/items", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[]}`))
		})
		r.Post("/api/items", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		})
		r.Get("/api/missing", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		})
	})

	a.srv = httptest.NewServer(r)
	t.Cleanup(a.srv.Close)
	return a
}

func (a *testAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.hits.Add(1)
		auth := r.Header.Get("Authorization")

		a.mu.Lock()
		a.auths = append(a.auths, auth)
		a.requestID = append(a.requestID, r.Header.Get(RequestIDHeader))
		ok := !a.alwaysReject && auth == "Bearer "+a.valid
		a.mu.Unlock()

		if !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *testAPI) setValid(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valid = token
}

func (a *testAPI) rejectAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alwaysReject = true
}

func (a *testAPI) Auths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auths...)
}

func (a *testAPI) RequestIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requestID...)
}

type testEnv struct {
	session   *Session
	clock     *fakeClock
	observer  *recordingObserver
	refresher *fakeRefresher
	storage   *MemoryStorage
	api       *testAPI
}

// newTestEnv builds a Session against a fresh testAPI using a fake clock.
func newTestEnv(t *testing.T, refresher *fakeRefresher, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:     newFakeClock(),
		observer:  &recordingObserver{},
		refresher: refresher,
		storage:   NewMemoryStorage(),
		api:       newTestAPI(t, ""),
	}

	base := []Option{
		WithStorage(env.storage),
		WithClock(env.clock),
		WithObserver(env.observer),
		WithDoer(HTTPDoer{Client: env.api.srv.Client()}),
	}
	s, err := New(refresher, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	env.session = s
	return env
}

func (e *testEnv) get(t *testing.T, path string) (*Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, e.api.srv.URL+path, nil)
	require.NoError(t, err)
	return e.session.Do(req)
}
