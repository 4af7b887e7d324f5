package session

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

// TokenSet holds the OAuth credentials stored for one provider connection.
// ExpiresAt is advisory: it drives cookie lifetimes and is not re-checked
// against the provider.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Profile is a point-in-time snapshot of the connected account, cached for
// client-side rendering. It is regenerated on every successful callback or
// validate and carries no freshness guarantee.
type Profile struct {
	ID            string            `json:"id"`
	Login         string            `json:"login,omitempty"`
	DisplayName   string            `json:"display_name"`
	AvatarURL     string            `json:"avatar_url"`
	Stats         map[string]string `json:"stats,omitempty"`
	Authenticated bool              `json:"authenticated"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

const (
	// StateTTL bounds how long an unconsumed authorization attempt stays valid.
	StateTTL = 10 * time.Minute
	// RefreshTokenTTL is independent of the provider-reported access token TTL.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Store abstracts where per-provider auth state, tokens, and profile
// snapshots live. The default implementation keeps everything in the
// browser's cookie jar; a server-side implementation can be swapped in
// without changing the flow handlers.
//
// Read methods report absence rather than errors: the session probe is
// non-authoritative by design.
type Store interface {
	// SetAuthState persists the CSRF state nonce for a pending authorization
	// attempt. A second attempt for the same provider overwrites the first.
	SetAuthState(w http.ResponseWriter, r *http.Request, provider, value string) error
	// AuthState returns the stored nonce, if one is present and unexpired.
	AuthState(r *http.Request, provider string) (string, bool)
	// ClearAuthState invalidates the stored nonce. Called exactly once on a
	// successful state match, before any code exchange.
	ClearAuthState(w http.ResponseWriter, r *http.Request, provider string) error

	// TokenSet returns the stored credentials. ok is false when no usable
	// access token is present.
	TokenSet(r *http.Request, provider string) (TokenSet, bool)
	// RefreshToken returns the stored refresh token, which may outlive the
	// access token.
	RefreshToken(r *http.Request, provider string) (string, bool)
	// WriteTokenSet commits a token set. An empty RefreshToken leaves any
	// previously stored refresh token in place.
	WriteTokenSet(w http.ResponseWriter, r *http.Request, provider string, ts TokenSet) error

	// WriteProfile commits a profile snapshot.
	WriteProfile(w http.ResponseWriter, r *http.Request, provider string, p Profile) error
	// Profile returns the stored snapshot, if any.
	Profile(r *http.Request, provider string) (Profile, bool)

	// Clear removes all stored data for the provider, forcing a clean
	// re-authentication.
	Clear(w http.ResponseWriter, r *http.Request, provider string) error
	// Connected reports whether an access token is present. Cheap and
	// non-authoritative: the token may already be rejected provider-side.
	Connected(r *http.Request, provider string) bool
}

// Cookie names are part of the HTTP contract with the dashboard frontend.

// StateCookieName returns the per-provider CSRF state cookie name.
func StateCookieName(provider string) string { return provider + "_auth_state" }

// AccessTokenCookieName returns the http-only access token cookie name.
func AccessTokenCookieName(provider string) string { return provider + "_access_token" }

// RefreshTokenCookieName returns the http-only refresh token cookie name.
func RefreshTokenCookieName(provider string) string { return provider + "_refresh_token" }

// ProfileCookieName returns the client-readable profile snapshot cookie name.
func ProfileCookieName(provider string) string { return provider + "_user" }

// GenerateState generates a cryptographically secure random state nonce.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
