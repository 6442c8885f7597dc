package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// Save then Load round-trips a session's token and client credentials.
func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir, err := Dir("drivefs")
	require.NoError(t, err)
	path, err := pathFor("drivefs", "default")
	require.NoError(t, err)
	require.Contains(t, path, dir)

	s := &Session{
		Name:         "default",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Token:        oauth2.Token{AccessToken: "tok", RefreshToken: "refresh"},
	}
	s.path = path
	require.NoError(t, s.Save())

	loaded, err := Load("drivefs", "default")
	require.NoError(t, err)
	assert.Equal(t, "client-1", loaded.ClientID)
	assert.Equal(t, "tok", loaded.Token.AccessToken)
}

// Load fails loudly rather than performing interactive auth when no session
// file exists yet: acquiring one is someone else's job.
func TestLoadMissingSessionFails(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := Load("drivefs", "nonexistent")
	assert.Error(t, err)
}

// savingTokenSource persists a rotated token back to disk, so a restart
// doesn't immediately refresh again.
func TestSavingTokenSourcePersistsRotatedToken(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path, err := pathFor("drivefs", "rotate")
	require.NoError(t, err)

	s := &Session{Name: "rotate", path: path, Token: oauth2.Token{AccessToken: "old"}}
	require.NoError(t, s.Save())

	src := &savingTokenSource{
		src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "new"}),
		session: s,
	}
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)

	reloaded, err := Load("drivefs", "rotate")
	require.NoError(t, err)
	assert.Equal(t, "new", reloaded.Token.AccessToken)
}
