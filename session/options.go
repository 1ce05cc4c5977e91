package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default timeouts
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

// DefaultPublicPaths never carry a token and never trigger a refresh.
var DefaultPublicPaths = []string{
	"/auth/login",
	"/auth/signup",
	"/auth/refresh",
	"/auth/forgot-password",
	"/auth/reset-password",
}

// statusSet is a set of HTTP status codes meaning "not authorized".
type statusSet map[int]struct{}

func newStatusSet(codes ...int) statusSet {
	s := make(statusSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s statusSet) has(code int) bool {
	_, ok := s[code]
	return ok
}

type options struct {
	storage        Storage
	doer           Doer
	clock          Clock
	log            zerolog.Logger
	observer       Observer
	requestTimeout time.Duration
	refreshTimeout time.Duration
	authFailure    statusSet
	publicPaths    []string
}

func defaultOptions() options {
	return options{
		clock:          SystemClock{},
		log:            zerolog.Nop(),
		observer:       NopObserver{},
		requestTimeout: DefaultRequestTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		authFailure:    newStatusSet(http.StatusUnauthorized),
		publicPaths:    DefaultPublicPaths,
	}
}

// Option configures a Session.
type Option func(*options)

// WithStorage sets the token persistence backend. Defaults to memory.
func WithStorage(s Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithDoer sets the transport used for API requests.
// Defaults to a go-httpretry client.
func WithDoer(d Doer) Option {
	return func(o *options) { o.doer = d }
}

// WithClock replaces the system clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver registers an Observer for session events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRequestTimeout bounds every outbound API request, replays included.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

// WithAuthFailureStatuses sets which API response statuses mean the access
// token was rejected. Default 401. It does not affect the refresh call,
// where 401 and 403 always end the session.
func WithAuthFailureStatuses(codes ...int) Option {
	return func(o *options) {
		if len(codes) > 0 {
			o.authFailure = newStatusSet(codes...)
		}
	}
}

// WithPublicPaths replaces the public endpoint allowlist. Paths match as
// suffixes so an API prefix such as /api/v1 does not need to be repeated.
func WithPublicPaths(paths ...string) Option {
	return func(o *options) { o.publicPaths = paths }
}

func isPublicPath(public []string, path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range public {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}
