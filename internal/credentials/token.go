package credentials

import (
	"errors"
	"time"
)

// ErrNoToken is returned when a source has never been authorized
var ErrNoToken = errors.New("no token stored")

// Token is an OAuth token for one source. A zero ExpiresAt means it never expires.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the token expires within margin
func (t *Token) Expired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(t.ExpiresAt) < margin
}

// SourceTokens reads and writes the token of one source
type SourceTokens struct {
	store  *Store
	source string
}

// Tokens returns the token accessor of source
func (s *Store) Tokens(source string) *SourceTokens {
	return &SourceTokens{store: s, source: source}
}

// GetToken returns the stored token or ErrNoToken
func (t *SourceTokens) GetToken() (*Token, error) {
	access, ok := t.store.Get(t.source + "_access_token")
	if !ok || access == "" {
		return nil, ErrNoToken
	}

	token := &Token{AccessToken: access}
	token.RefreshToken, _ = t.store.Get(t.source + "_refresh_token")
	if raw, ok := t.store.Get(t.source + "_token_expires"); ok && raw != "" {
		if expires, err := time.Parse(time.RFC3339, raw); err == nil {
			token.ExpiresAt = expires
		}
	}
	return token, nil
}

// SaveToken stores token, replacing any previous one
func (t *SourceTokens) SaveToken(token *Token) error {
	values := map[string]string{
		t.source + "_access_token":  token.AccessToken,
		t.source + "_refresh_token": token.RefreshToken,
	}
	if !token.ExpiresAt.IsZero() {
		values[t.source+"_token_expires"] = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := t.store.SetMany(values); err != nil {
		return err
	}
	if token.ExpiresAt.IsZero() {
		return t.store.Delete(t.source + "_token_expires")
	}
	return nil
}

// DeleteToken forgets the token of the source
func (t *SourceTokens) DeleteToken() error {
	return t.store.Delete(t.source+"_access_token", t.source+"_refresh_token", t.source+"_token_expires")
}
