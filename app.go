package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"

	"github.com/go-authgate/admin-session/api"
	"github.com/go-authgate/admin-session/session"
	"github.com/go-authgate/admin-session/session/dbstore"
	"github.com/go-authgate/admin-session/tui"
)

// app is everything a command needs: the session and the API client.
type app struct {
	cfg     *Config
	session *session.Session
	api     *api.Client
	log     zerolog.Logger
	closers []io.Closer
}

// newApp wires a Session for cfg, reporting events to d.
func newApp(cfg *Config, d tui.Displayer, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	log, closer, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	a.log = log
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	storage, err := a.openStorage()
	if err != nil {
		a.Close()
		return nil, err
	}

	doer, err := newHTTPClient()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.session, err = session.New(
		session.NewHTTPRefresher(cfg.ServerURL, doer),
		session.WithStorage(storage),
		session.WithDoer(doer),
		session.WithLogger(log),
		session.WithObserver(d),
		session.WithRequestTimeout(cfg.RequestTimeout),
		session.WithRefreshTimeout(cfg.RefreshTimeout),
		session.WithAuthFailureStatuses(cfg.AuthFailureStatuses...),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.session)
	a.api = api.New(cfg.ServerURL, a.session)

	return a, nil
}

func (a *app) openStorage() (session.Storage, error) {
	switch a.cfg.TokenStore {
	case storeMemory:
		return session.NewMemoryStorage(), nil
	case storeSQLite:
		s, err := dbstore.Open(a.cfg.TokenDB, a.cfg.Profile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return session.NewFileStorage(a.cfg.TokenFile, a.cfg.Profile), nil
	}
}

// Close releases the session, the database and the log file, newest first.
func (a *app) Close() error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close: %v\n", err)
		}
	}
	a.closers = nil
	return nil
}

// newHTTPClient builds the retrying HTTP client shared by all requests.
func newHTTPClient() (*retry.Client, error) {
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	client, err := retry.NewBackgroundClient(retry.WithHTTPClient(baseHTTPClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return client, nil
}

// newLogger writes to cfg.LogFile when set, otherwise to out. A nil out
// discards logs, which keeps the TUI screen clean.
func newLogger(cfg *Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return zerolog.New(f).Level(level).With().Timestamp().Logger(), f, nil
	}

	if out == nil {
		return zerolog.Nop(), nil, nil
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().
		Logger(), nil, nil
}
