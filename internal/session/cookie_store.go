package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CookieStore is the default Store: the browser's cookie jar is the single
// source of truth, with no server-side persistence. Token cookies are
// http-only; the profile snapshot cookie is readable by client scripts.
type CookieStore struct {
	secure bool
}

// NewCookieStore returns a CookieStore. Cookies are secure-flagged outside
// development.
func NewCookieStore(env string) *CookieStore {
	return &CookieStore{secure: !strings.EqualFold(env, "development")}
}

// SetAuthState stores the CSRF nonce in a short-lived http-only cookie.
func (s *CookieStore) SetAuthState(w http.ResponseWriter, _ *http.Request, provider, value string) error {
	http.SetCookie(w, s.cookie(StateCookieName(provider), value, StateTTL, true))
	return nil
}

// AuthState reads the stored CSRF nonce.
func (s *CookieStore) AuthState(r *http.Request, provider string) (string, bool) {
	c, err := r.Cookie(StateCookieName(provider))
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// ClearAuthState expires the state cookie.
func (s *CookieStore) ClearAuthState(w http.ResponseWriter, _ *http.Request, provider string) error {
	http.SetCookie(w, s.expiredCookie(StateCookieName(provider), true))
	return nil
}

// TokenSet reads the stored credentials. The cookie store cannot recover
// ExpiresAt; the access token cookie simply disappears when its max-age
// elapses.
func (s *CookieStore) TokenSet(r *http.Request, provider string) (TokenSet, bool) {
	access, err := r.Cookie(AccessTokenCookieName(provider))
	if err != nil || access.Value == "" {
		return TokenSet{}, false
	}
	ts := TokenSet{AccessToken: access.Value}
	if refresh, err := r.Cookie(RefreshTokenCookieName(provider)); err == nil {
		ts.RefreshToken = refresh.Value
	}
	return ts, true
}

// RefreshToken reads the stored refresh token.
func (s *CookieStore) RefreshToken(r *http.Request, provider string) (string, bool) {
	c, err := r.Cookie(RefreshTokenCookieName(provider))
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// WriteTokenSet commits the access token cookie with the provider-reported
// TTL and, when a refresh token is present, the refresh token cookie with
// its own longer TTL.
func (s *CookieStore) WriteTokenSet(w http.ResponseWriter, _ *http.Request, provider string, ts TokenSet) error {
	accessTTL := time.Until(ts.ExpiresAt).Round(time.Second)
	if ts.ExpiresAt.IsZero() || accessTTL <= 0 {
		accessTTL = time.Hour
	}
	http.SetCookie(w, s.cookie(AccessTokenCookieName(provider), ts.AccessToken, accessTTL, true))

	if ts.RefreshToken != "" {
		http.SetCookie(w, s.cookie(RefreshTokenCookieName(provider), ts.RefreshToken, RefreshTokenTTL, true))
	}
	return nil
}

// WriteProfile commits the snapshot as URL-escaped JSON in a cookie client
// scripts can read.
func (s *CookieStore) WriteProfile(w http.ResponseWriter, _ *http.Request, provider string, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	ttl := time.Until(p.ExpiresAt).Round(time.Second)
	if p.ExpiresAt.IsZero() || ttl <= 0 {
		ttl = time.Hour
	}
	http.SetCookie(w, s.cookie(ProfileCookieName(provider), url.QueryEscape(string(data)), ttl, false))
	return nil
}

// Profile reads back the stored snapshot.
func (s *CookieStore) Profile(r *http.Request, provider string) (Profile, bool) {
	c, err := r.Cookie(ProfileCookieName(provider))
	if err != nil || c.Value == "" {
		return Profile{}, false
	}

	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return Profile{}, false
	}

	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Profile{}, false
	}
	return p, true
}

// Clear expires every cookie held for the provider.
func (s *CookieStore) Clear(w http.ResponseWriter, _ *http.Request, provider string) error {
	http.SetCookie(w, s.expiredCookie(StateCookieName(provider), true))
	http.SetCookie(w, s.expiredCookie(AccessTokenCookieName(provider), true))
	http.SetCookie(w, s.expiredCookie(RefreshTokenCookieName(provider), true))
	http.SetCookie(w, s.expiredCookie(ProfileCookieName(provider), false))
	return nil
}

// Connected reports access token cookie presence.
func (s *CookieStore) Connected(r *http.Request, provider string) bool {
	_, ok := s.TokenSet(r, provider)
	return ok
}

func (s *CookieStore) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	}
}

func (s *CookieStore) expiredCookie(name string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}
