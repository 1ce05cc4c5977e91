package dbstore

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/admin-session/session"
)

func openTemp(t *testing.T, path, profile string) *Storage {
	t.Helper()
	s, err := Open(path, profile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage_RoundTrip(t *testing.T) {
	s := openTemp(t, filepath.Join(t.TempDir(), "nested", "tokens.db"), "default")

	_, err := s.Load(session.KeyAccessToken)
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, s.Save(session.KeyAccessToken, "access-1"))
	require.NoError(t, s.Save(session.KeyAccessToken, "access-2"))

	v, err := s.Load(session.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-2", v, "save overwrites")

	require.NoError(t, s.Delete(session.KeyAccessToken))
	require.NoError(t, s.Delete(session.KeyAccessToken), "deleting a missing key is fine")
	_, err = s.Load(session.KeyAccessToken)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStorage_ProfilesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	prod := openTemp(t, path, "prod")
	staging := openTemp(t, path, "staging")

	require.NoError(t, prod.Save(session.KeyRefreshToken, "prod-refresh"))

	_, err := staging.Load(session.KeyRefreshToken)
	assert.ErrorIs(t, err, session.ErrNotFound)

	v, err := prod.Load(session.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "prod-refresh", v)
}

func TestStorage_BacksTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	first := session.NewTokenStore(openTemp(t, path, "default"), zerolog.Nop())
	first.SetPair(session.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"})

	second := session.NewTokenStore(openTemp(t, path, "default"), zerolog.Nop())
	second.Load()

	assert.Equal(t, "access-1", second.Access())
	assert.Equal(t, "refresh-1", second.Refresh())
}
