package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Token store backends
const (
	storeFile   = "file"
	storeSQLite = "sqlite"
	storeMemory = "memory"
)

// Config is the resolved CLI configuration.
type Config struct {
	ServerURL           string
	Profile             string
	TokenStore          string
	TokenFile           string
	TokenDB             string
	LogLevel            string
	LogFile             string
	RequestTimeout      time.Duration
	RefreshTimeout      time.Duration
	AuthFailureStatuses []int
}

// flagValues holds raw flag input; empty means "not given".
type flagValues struct {
	serverURL      string
	profile        string
	tokenStore     string
	tokenFile      string
	tokenDB        string
	logLevel       string
	logFile        string
	requestTimeout string
	refreshTimeout string
	authStatuses   string
}

func (f *flagValues) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.serverURL, "server-url", "",
		"Admin API URL (default: http://localhost:8080 or SERVER_URL env)")
	pf.StringVar(&f.profile, "profile", "",
		"Session profile name (default: default or PROFILE env)")
	pf.StringVar(&f.tokenStore, "token-store", "",
		"Token storage backend: file, sqlite or memory (default: file or TOKEN_STORE env)")
	pf.StringVar(&f.tokenFile, "token-file", "",
		"Token file for the file store (default: .authgate-admin-tokens.json or TOKEN_FILE env)")
	pf.StringVar(&f.tokenDB, "token-db", "",
		"Database for the sqlite store (default: .authgate-admin.db or TOKEN_DB env)")
	pf.StringVar(&f.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: warn or LOG_LEVEL env)")
	pf.StringVar(&f.logFile, "log-file", "",
		"Write logs to this file instead of stderr (or LOG_FILE env)")
	pf.StringVar(&f.requestTimeout, "request-timeout", "",
		"Timeout for each API request (default: 10s or REQUEST_TIMEOUT env)")
	pf.StringVar(&f.refreshTimeout, "refresh-timeout", "",
		"Timeout for each token refresh (default: 10s or REFRESH_TIMEOUT env)")
	pf.StringVar(&f.authStatuses, "auth-failure-statuses", "",
		"Statuses meaning the access token was rejected (default: 401 or AUTH_FAILURE_STATUSES env)")
}

// resolve builds the Config. Priority: flag > env > default.
func (f *flagValues) resolve() (*Config, error) {
	cfg := &Config{
		ServerURL:  getConfig(f.serverURL, "SERVER_URL", "http://localhost:8080"),
		Profile:    getConfig(f.profile, "PROFILE", "default"),
		TokenStore: strings.ToLower(getConfig(f.tokenStore, "TOKEN_STORE", storeFile)),
		TokenFile:  getConfig(f.tokenFile, "TOKEN_FILE", ".authgate-admin-tokens.json"),
		TokenDB:    getConfig(f.tokenDB, "TOKEN_DB", ".authgate-admin.db"),
		LogLevel:   getConfig(f.logLevel, "LOG_LEVEL", "warn"),
		LogFile:    getConfig(f.logFile, "LOG_FILE", ""),
	}

	if err := validateServerURL(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}

	switch cfg.TokenStore {
	case storeFile, storeSQLite, storeMemory:
	default:
		return nil, fmt.Errorf("unknown TOKEN_STORE %q (want file, sqlite or memory)", cfg.TokenStore)
	}

	var err error
	cfg.RequestTimeout, err = parseDuration(getConfig(f.requestTimeout, "REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	cfg.RefreshTimeout, err = parseDuration(getConfig(f.refreshTimeout, "REFRESH_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TIMEOUT: %w", err)
	}
	cfg.AuthFailureStatuses, err = parseStatuses(
		getConfig(f.authStatuses, "AUTH_FAILURE_STATUSES", "401"),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_FAILURE_STATUSES: %w", err)
	}

	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// parseDuration accepts Go durations ("30s") or plain seconds ("30").
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("must be positive, got %s", s)
		}
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return time.Duration(secs) * time.Second, nil
}

// parseStatuses parses a comma separated list such as "401,403".
func parseStatuses(s string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil || code < 400 || code > 599 {
			return nil, fmt.Errorf("not an HTTP error status: %q", part)
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, errors.New("no status given")
	}
	return codes, nil
}
