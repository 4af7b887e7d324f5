package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func findCookie(t *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	t.Helper()
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func requestWithCookies(cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		if c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return req
}

func TestGenerateState(t *testing.T) {
	state1, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	state2, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	if state1 == "" || state2 == "" {
		t.Fatal("expected non-empty state")
	}
	if state1 == state2 {
		t.Fatal("expected unique state values")
	}
}

func TestCookieStoreAuthStateRoundTrip(t *testing.T) {
	store := NewCookieStore("development")
	rec := httptest.NewRecorder()

	if err := store.SetAuthState(rec, httptest.NewRequest(http.MethodGet, "/", nil), "twitch", "nonce123"); err != nil {
		t.Fatalf("SetAuthState returned error: %v", err)
	}

	cookie := findCookie(t, rec.Result().Cookies(), "twitch_auth_state")
	if cookie == nil {
		t.Fatal("expected state cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Error("expected state cookie to be http-only")
	}
	if cookie.MaxAge != int(StateTTL.Seconds()) {
		t.Errorf("expected state cookie max-age %d, got %d", int(StateTTL.Seconds()), cookie.MaxAge)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Error("expected SameSite=Lax on state cookie")
	}

	req := requestWithCookies(rec.Result().Cookies())
	value, ok := store.AuthState(req, "twitch")
	if !ok || value != "nonce123" {
		t.Fatalf("expected stored state nonce123, got %q (ok=%v)", value, ok)
	}

	if _, ok := store.AuthState(req, "youtube"); ok {
		t.Fatal("expected no state for a different provider")
	}
}

func TestCookieStoreClearAuthStateExpiresCookie(t *testing.T) {
	store := NewCookieStore("development")
	rec := httptest.NewRecorder()

	if err := store.ClearAuthState(rec, httptest.NewRequest(http.MethodGet, "/", nil), "twitch"); err != nil {
		t.Fatalf("ClearAuthState returned error: %v", err)
	}

	cookie := findCookie(t, rec.Result().Cookies(), "twitch_auth_state")
	if cookie == nil {
		t.Fatal("expected state cookie mutation")
	}
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Fatalf("expected expired empty state cookie, got value=%q max-age=%d", cookie.Value, cookie.MaxAge)
	}
}

func TestCookieStoreWriteTokenSetCookieAttributes(t *testing.T) {
	store := NewCookieStore("development")
	rec := httptest.NewRecorder()

	ts := TokenSet{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    time.Now().Add(3600 * time.Second),
	}
	if err := store.WriteTokenSet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "twitch", ts); err != nil {
		t.Fatalf("WriteTokenSet returned error: %v", err)
	}

	access := findCookie(t, rec.Result().Cookies(), "twitch_access_token")
	if access == nil || access.Value != "AT1" {
		t.Fatal("expected access token cookie AT1")
	}
	if !access.HttpOnly {
		t.Error("expected access token cookie to be http-only")
	}
	if access.MaxAge != 3600 {
		t.Errorf("expected access token max-age 3600, got %d", access.MaxAge)
	}

	refresh := findCookie(t, rec.Result().Cookies(), "twitch_refresh_token")
	if refresh == nil || refresh.Value != "RT1" {
		t.Fatal("expected refresh token cookie RT1")
	}
	if !refresh.HttpOnly {
		t.Error("expected refresh token cookie to be http-only")
	}
	if refresh.MaxAge != int(RefreshTokenTTL.Seconds()) {
		t.Errorf("expected refresh token max-age %d, got %d", int(RefreshTokenTTL.Seconds()), refresh.MaxAge)
	}
}

func TestCookieStoreWriteTokenSetKeepsExistingRefreshToken(t *testing.T) {
	store := NewCookieStore("development")
	rec := httptest.NewRecorder()

	ts := TokenSet{AccessToken: "AT2", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.WriteTokenSet(rec, httptest.NewRequest(http.MethodGet, "/", nil), "twitch", ts); err != nil {
		t.Fatalf("WriteTokenSet returned error: %v", err)
	}

	if c := findCookie(t, rec.Result().Cookies(), "twitch_refresh_token"); c != nil {
		t.Fatal("expected no refresh token cookie mutation when token set has none")
	}
}

func TestCookieStoreTokenSetReadsBothCookies(t *testing.T) {
	store := NewCookieStore("development")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "twitch_access_token", Value: "AT1"})
	req.AddCookie(&http.Cookie{Name: "twitch_refresh_token", Value: "RT1"})

	ts, ok := store.TokenSet(req, "twitch")
	if !ok {
		t.Fatal("expected token set to be present")
	}
	if ts.AccessToken != "AT1" || ts.RefreshToken != "RT1" {
		t.Fatalf("unexpected token set %+v", ts)
	}

	if _, ok := store.TokenSet(httptest.NewRequest(http.MethodGet, "/", nil), "twitch"); ok {
		t.Fatal("expected no token set without cookies")
	}
}

func TestCookieStoreProfileRoundTrip(t *testing.T) {
	store := NewCookieStore("development")
	rec := httptest.NewRecorder()

	profile := Profile{
		ID:            "42",
		Login:         "foo",
		DisplayName:   "Foo Streamer",
		AvatarURL:     "https://cdn.example/foo.png",
		Stats:         map[string]string{"subscriberCount": "1200"},
		Authenticated: true,
		ExpiresAt:     time.Now().Add(time.Hour).UTC(),
	}
	if err := store.WriteProfile(rec, httptest.NewRequest(http.MethodGet, "/", nil), "youtube", profile); err != nil {
		t.Fatalf("WriteProfile returned error: %v", err)
	}

	cookie := findCookie(t, rec.Result().Cookies(), "youtube_user")
	if cookie == nil {
		t.Fatal("expected profile cookie to be set")
	}
	if cookie.HttpOnly {
		t.Error("profile cookie must be readable by client scripts")
	}

	req := requestWithCookies(rec.Result().Cookies())
	got, ok := store.Profile(req, "youtube")
	if !ok {
		t.Fatal("expected profile to round-trip")
	}
	if got.ID != "42" || got.Login != "foo" || got.Stats["subscriberCount"] != "1200" {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestCookieStoreClearExpiresEverything(t *testing.T) {
	store := NewCookieStore("development")
	rec := httptest.NewRecorder()

	if err := store.Clear(rec, httptest.NewRequest(http.MethodGet, "/", nil), "twitch"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	for _, name := range []string{"twitch_auth_state", "twitch_access_token", "twitch_refresh_token", "twitch_user"} {
		cookie := findCookie(t, rec.Result().Cookies(), name)
		if cookie == nil {
			t.Fatalf("expected %s to be cleared", name)
		}
		if cookie.Value != "" || cookie.MaxAge >= 0 {
			t.Fatalf("expected %s to be expired, got value=%q max-age=%d", name, cookie.Value, cookie.MaxAge)
		}
	}
}

func TestCookieStoreSecureFlagOutsideDevelopment(t *testing.T) {
	store := NewCookieStore("production")
	rec := httptest.NewRecorder()

	if err := store.SetAuthState(rec, httptest.NewRequest(http.MethodGet, "/", nil), "twitch", "nonce"); err != nil {
		t.Fatalf("SetAuthState returned error: %v", err)
	}

	cookie := findCookie(t, rec.Result().Cookies(), "twitch_auth_state")
	if cookie == nil || !cookie.Secure {
		t.Fatal("expected secure cookie outside development")
	}
}

func TestCookieStoreConnectedIsIdempotent(t *testing.T) {
	store := NewCookieStore("development")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "twitch_access_token", Value: "AT1"})

	first := store.Connected(req, "twitch")
	second := store.Connected(req, "twitch")
	if !first || first != second {
		t.Fatalf("expected stable connected=true, got %v then %v", first, second)
	}

	if store.Connected(req, "youtube") {
		t.Fatal("expected youtube to be disconnected")
	}
}
