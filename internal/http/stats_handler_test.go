package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"streamlens/internal/provider"
	"streamlens/internal/session"
	"streamlens/internal/stats"
)

func newFakeHelix(t *testing.T, validToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "42", "login": "foo", "display_name": "Foo"}},
			})
		case "/channels/followers":
			json.NewEncoder(w).Encode(map[string]any{"total": 777})
		case "/streams":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		case "/videos":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newStatsHandler(srv *httptest.Server, fake *fakeProvider) *StatsHandler {
	svc := stats.NewService(srv.Client(), "client123", stats.WithTwitchAPIURL(srv.URL))
	providers := map[string]provider.Provider{fake.name: fake}
	return NewStatsHandler(svc, providers, session.NewCookieStore("development"), testLogger())
}

func TestStatsOverview(t *testing.T) {
	srv := newFakeHelix(t, "AT1")
	defer srv.Close()

	fake := &fakeProvider{name: "twitch"}
	h := newStatsHandler(srv, fake)

	req := newProviderRequest(http.MethodGet, "/api/stats/twitch", "twitch")
	req.AddCookie(&http.Cookie{Name: "twitch_access_token", Value: "AT1"})
	rec := httptest.NewRecorder()
	h.Overview(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var overview stats.TwitchOverview
	if err := json.NewDecoder(rec.Body).Decode(&overview); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if overview.Followers != 777 || overview.Profile.Login != "foo" {
		t.Errorf("unexpected overview %+v", overview)
	}
	if fake.refreshCalls != 0 {
		t.Error("expected no refresh with a valid token")
	}
}

func TestStatsOverviewNotConnected(t *testing.T) {
	srv := newFakeHelix(t, "AT1")
	defer srv.Close()

	h := newStatsHandler(srv, &fakeProvider{name: "twitch"})

	rec := httptest.NewRecorder()
	h.Overview(rec, newProviderRequest(http.MethodGet, "/api/stats/twitch", "twitch"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["error"] != "Not connected to twitch" {
		t.Errorf("unexpected error message %q", body["error"])
	}
}

func TestStatsOverviewRefreshesOnceOnStaleToken(t *testing.T) {
	srv := newFakeHelix(t, "AT_new")
	defer srv.Close()

	fake := &fakeProvider{
		name: "twitch",
		refreshToken: &oauth2.Token{
			AccessToken:  "AT_new",
			RefreshToken: "RT2",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
	h := newStatsHandler(srv, fake)

	req := newProviderRequest(http.MethodGet, "/api/stats/twitch", "twitch")
	req.AddCookie(&http.Cookie{Name: "twitch_access_token", Value: "AT_stale"})
	req.AddCookie(&http.Cookie{Name: "twitch_refresh_token", Value: "RT1"})
	rec := httptest.NewRecorder()
	h.Overview(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 after reactive refresh, got %d: %s", rec.Code, rec.Body.String())
	}
	if fake.refreshCalls != 1 {
		t.Errorf("expected exactly one refresh, got %d", fake.refreshCalls)
	}
	if c := findCookie(rec.Result().Cookies(), "twitch_access_token"); c == nil || c.Value != "AT_new" {
		t.Error("expected rotated access token cookie AT_new")
	}
}

func TestStatsOverviewTerminalAfterFailedRefresh(t *testing.T) {
	srv := newFakeHelix(t, "AT_valid")
	defer srv.Close()

	fake := &fakeProvider{
		name: "twitch",
		refreshToken: &oauth2.Token{
			AccessToken: "AT_still_stale",
			Expiry:      time.Now().Add(time.Hour),
		},
	}
	h := newStatsHandler(srv, fake)

	req := newProviderRequest(http.MethodGet, "/api/stats/twitch", "twitch")
	req.AddCookie(&http.Cookie{Name: "twitch_access_token", Value: "AT_stale"})
	req.AddCookie(&http.Cookie{Name: "twitch_refresh_token", Value: "RT1"})
	rec := httptest.NewRecorder()
	h.Overview(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["error"] != "Session expired. Please re-authenticate." {
		t.Errorf("unexpected error message %q", body["error"])
	}
	if fake.refreshCalls != 1 {
		t.Errorf("expected exactly one refresh attempt, got %d", fake.refreshCalls)
	}

	for _, name := range []string{"twitch_access_token", "twitch_refresh_token", "twitch_user"} {
		c := findCookie(rec.Result().Cookies(), name)
		if c == nil || c.MaxAge >= 0 {
			t.Errorf("expected %s to be cleared after terminal rejection", name)
		}
	}
}

func TestStatsOverviewNoRefreshTokenIsTerminal(t *testing.T) {
	srv := newFakeHelix(t, "AT_valid")
	defer srv.Close()

	fake := &fakeProvider{name: "twitch"}
	h := newStatsHandler(srv, fake)

	req := newProviderRequest(http.MethodGet, "/api/stats/twitch", "twitch")
	req.AddCookie(&http.Cookie{Name: "twitch_access_token", Value: "AT_stale"})
	rec := httptest.NewRecorder()
	h.Overview(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if fake.refreshCalls != 0 {
		t.Error("expected no refresh without a stored refresh token")
	}
}

func TestStatsOverviewUnknownProvider(t *testing.T) {
	srv := newFakeHelix(t, "AT1")
	defer srv.Close()

	h := newStatsHandler(srv, &fakeProvider{name: "twitch"})

	rec := httptest.NewRecorder()
	h.Overview(rec, newProviderRequest(http.MethodGet, "/api/stats/tiktok", "tiktok"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
