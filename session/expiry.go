package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry configuration
const (
	// RefreshBuffer is how long before expiry the scheduler refreshes.
	RefreshBuffer = 60 * time.Second
	// FallbackRefreshDelay is used when a token carries no readable exp claim.
	// Shorter than typical access token lifetimes.
	FallbackRefreshDelay = 13 * time.Minute
	// MinRefreshInterval spaces out immediate refreshes of tokens that
	// live no longer than RefreshBuffer.
	MinRefreshInterval = 10 * time.Second
)

// DecodedExpiry is the best-effort expiry read from an access token.
type DecodedExpiry struct {
	ExpiresAt time.Time
	OK        bool
}

var unverifiedParser = jwt.NewParser()

// DecodeExpiry reads the exp claim of a JWT without verifying its signature.
// The signature is the server's concern; the client only needs the timestamp.
func DecodeExpiry(token string) DecodedExpiry {
	if token == "" {
		return DecodedExpiry{}
	}

	var claims jwt.RegisteredClaims
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil {
		return DecodedExpiry{}
	}
	if claims.ExpiresAt == nil {
		return DecodedExpiry{}
	}
	return DecodedExpiry{ExpiresAt: claims.ExpiresAt.Time, OK: true}
}

// wellFormed reports whether token parses as a JWT.
func wellFormed(token string) bool {
	if token == "" {
		return false
	}
	var claims jwt.RegisteredClaims
	_, _, err := unverifiedParser.ParseUnverified(token, &claims)
	return err == nil
}

// usable reports whether token is well-formed and not already past its exp.
func usable(token string, now time.Time) bool {
	return wellFormed(token) && !expired(token, now)
}

// expired reports whether token carries an exp claim that has passed.
func expired(token string, now time.Time) bool {
	exp := DecodeExpiry(token)
	return exp.OK && !now.Before(exp.ExpiresAt)
}

// refreshDelay computes how long to wait before refreshing token.
func refreshDelay(token string, now time.Time) time.Duration {
	exp := DecodeExpiry(token)
	if !exp.OK {
		return FallbackRefreshDelay
	}
	return exp.ExpiresAt.Sub(now) - RefreshBuffer
}
