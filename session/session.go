// Package session loads an already-persisted OAuth2 session for a Google
// account and hands back an authenticated *http.Client, standing in for the
// out-of-scope login/logout/list/verify subcommand family.
// It persists a small JSON blob on disk, keyed by session name, that
// remembers its own path so it can
// be rewritten after a refresh. Acquiring the token in the first place -
// the interactive browser/device-code dance - is deliberately not
// implemented here; that belongs to a separate `login` subcommand.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Session is one persisted OAuth2 token plus the client config needed to
// refresh it: the client config is embedded alongside the token fields,
// built on golang.org/x/oauth2 rather than a hand-rolled refresh call.
type Session struct {
	Name string `json:"-"`

	ClientID     string       `json:"client_id"`
	ClientSecret string       `json:"client_secret"`
	Token        oauth2.Token `json:"token"`

	path string
}

// Dir returns the directory session files for app live under:
// $XDG_CONFIG_HOME/<app>. Each session is the file <session_name>.json in it.
func Dir(app string) (string, error) {
	confDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(confDir, app), nil
}

// pathFor computes the on-disk path for a named session.
func pathFor(app, name string) (string, error) {
	dir, err := Dir(app)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".json"), nil
}

// Load reads a previously-persisted session from disk. It fails loudly if
// no session file exists rather than attempting interactive auth - by
// design, since acquiring a session is the `login` subcommand's job, not
// the mount core's.
func Load(app, name string) (*Session, error) {
	path, err := pathFor(app, name)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session %q not found, run `%s login %s` first: %w", name, app, name, err)
	}
	s := &Session{Name: name, path: path}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("session: corrupt session file %q: %w", path, err)
	}
	return s, nil
}

// Save persists the session back to its own path, used after a refresh
// rotates the token.
func (s *Session) Save() error {
	if s.path == "" {
		return fmt.Errorf("session: %q has no backing path", s.Name)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0600)
}

// oauthConfig rebuilds the oauth2.Config this session's token was issued
// under, scoped to Drive.
func (s *Session) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive"},
	}
}

// HTTPClient returns an *http.Client that automatically refreshes the
// underlying token as needed, persisting the rotated token back to disk via
// a wrapping token source instead of an explicit refresh-before-every-request
// call.
func (s *Session) HTTPClient(ctx context.Context) *http.Client {
	src := s.oauthConfig().TokenSource(ctx, &s.Token)
	return oauth2.NewClient(ctx, &savingTokenSource{src: src, session: s})
}

// savingTokenSource wraps an oauth2.TokenSource so that whenever the
// underlying source mints a new token (i.e. the old one expired), the
// refreshed token is written back to disk immediately - otherwise the next
// process start would refresh again needlessly, or worse, use a revoked
// refresh token if the provider rotates those too.
type savingTokenSource struct {
	src     oauth2.TokenSource
	session *Session
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.session.Token.AccessToken {
		s.session.Token = *tok
		_ = s.session.Save()
	}
	return tok, nil
}
