package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"streamlens/internal/provider"
	"streamlens/internal/session"
)

// OAuthHandler drives the authorization-code flow for every configured
// provider. One handler serves all platforms; the provider value carries the
// endpoints, scopes, and profile parsing.
type OAuthHandler struct {
	providers map[string]provider.Provider
	store     session.Store
	logger    *slog.Logger
	baseURL   string
}

// NewOAuthHandler creates an OAuthHandler. baseURL is where the dashboard
// frontend lives; success and failure both redirect back into it.
func NewOAuthHandler(providers map[string]provider.Provider, store session.Store, baseURL string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		providers: providers,
		store:     store,
		logger:    logger,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// Connect handles GET /connect/{provider}.
// Issues the CSRF state nonce and redirects to the provider consent screen.
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	state, err := session.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.store.SetAuthState(w, r, p.Name(), state); err != nil {
		h.logger.Error("failed to store auth state", "provider", p.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /auth/{provider}/callback.
// Validates the round-tripped state, exchanges the code, fetches a profile
// snapshot, and commits tokens. Any failure redirects to the error page with
// a human-readable message; secrets never appear in messages or logs.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	name := p.Name()
	q := r.URL.Query()

	// Provider-reported errors short-circuit before state handling; the
	// state cookie stays untouched so the user can simply retry.
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "provider", name, "error", errParam)
		msg := q.Get("error_description")
		if msg == "" {
			msg = "Authentication failed"
		}
		h.redirectError(w, r, msg)
		return
	}

	// CSRF check must precede the code exchange so a forged callback can
	// never bind attacker tokens to this session.
	stateParam := q.Get("state")
	stored, ok := h.store.AuthState(r, name)
	if stateParam == "" || !ok || subtle.ConstantTimeCompare([]byte(stateParam), []byte(stored)) != 1 {
		h.logger.Warn("oauth callback: state mismatch", "provider", name)
		h.redirectError(w, r, "Invalid authentication state")
		return
	}

	// The state is consumed exactly once on match, regardless of what
	// happens downstream, so it can never be replayed.
	if err := h.store.ClearAuthState(w, r, name); err != nil {
		h.logger.Error("oauth callback: failed to clear state", "provider", name, "error", err)
	}

	code := q.Get("code")
	if code == "" {
		h.logger.Warn("oauth callback: missing code", "provider", name)
		h.redirectError(w, r, "No authorization code received")
		return
	}

	token, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", "provider", name, "error", err)
		h.redirectError(w, r, provider.ExchangeErrorMessage(name, err))
		return
	}

	ts := session.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := h.store.WriteTokenSet(w, r, name, ts); err != nil {
		h.logger.Error("oauth callback: failed to store tokens", "provider", name, "error", err)
		h.redirectError(w, r, "Failed to complete authentication")
		return
	}

	// Profile enrichment is best-effort: the connection still commits when
	// the identity endpoint misbehaves.
	if prof, err := p.FetchProfile(r.Context(), token.AccessToken); err != nil {
		h.logger.Warn("oauth callback: profile fetch failed", "provider", name, "error", err)
	} else {
		prof.Authenticated = true
		prof.ExpiresAt = token.Expiry
		if err := h.store.WriteProfile(w, r, name, *prof); err != nil {
			h.logger.Warn("oauth callback: failed to store profile", "provider", name, "error", err)
		}
	}

	h.logger.Info("oauth connection established", "provider", name)
	http.Redirect(w, r, h.baseURL+"/dashboard?auth=success&platform="+name, http.StatusFound)
}

// Refresh handles GET /auth/{provider}/refresh.
// Exchanges the stored refresh token for a new pair. Failure clears every
// provider cookie rather than leaving a half-valid session, and is never
// silently retried.
func (h *OAuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	name := p.Name()

	refreshToken, ok := h.store.RefreshToken(r, name)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No refresh token available")
		return
	}

	token, err := p.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.logger.Warn("token refresh failed", "provider", name, "error", err)
		if err := h.store.Clear(w, r, name); err != nil {
			h.logger.Error("failed to clear session", "provider", name, "error", err)
		}
		writeError(w, http.StatusUnauthorized, "Failed to refresh token")
		return
	}

	ts := session.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := h.store.WriteTokenSet(w, r, name, ts); err != nil {
		h.logger.Error("failed to store refreshed tokens", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Validate handles GET /auth/{provider}/validate.
// Confirms the stored access token against the identity endpoint and
// refreshes the profile snapshot. On a provider 401 it refreshes exactly
// once and retries; a second rejection clears the session.
func (h *OAuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	name := p.Name()

	ts, ok := h.store.TokenSet(r, name)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"authenticated": false,
			"error":         "No access token found. Please authenticate first.",
		})
		return
	}

	prof, err := p.FetchProfile(r.Context(), ts.AccessToken)
	if err != nil && errors.Is(err, provider.ErrUnauthorized) {
		prof, err = h.refreshAndRetry(w, r, p)
	}
	if err != nil {
		h.logger.Warn("validate failed", "provider", name, "error", err)
		if errors.Is(err, provider.ErrUnauthorized) {
			if clearErr := h.store.Clear(w, r, name); clearErr != nil {
				h.logger.Error("failed to clear session", "provider", name, "error", clearErr)
			}
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"authenticated": false,
			"error":         "Invalid or expired authentication. Please re-authenticate.",
		})
		return
	}

	prof.Authenticated = true
	if existing, ok := h.store.Profile(r, name); ok {
		prof.ExpiresAt = existing.ExpiresAt
	}
	if err := h.store.WriteProfile(w, r, name, *prof); err != nil {
		h.logger.Warn("failed to store profile", "provider", name, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          prof,
	})
}

// refreshAndRetry performs the single reactive refresh allowed after a
// provider 401 and retries the profile fetch with the new token.
func (h *OAuthHandler) refreshAndRetry(w http.ResponseWriter, r *http.Request, p provider.Provider) (*session.Profile, error) {
	name := p.Name()

	refreshToken, ok := h.store.RefreshToken(r, name)
	if !ok {
		return nil, provider.ErrUnauthorized
	}

	token, err := p.Refresh(r.Context(), refreshToken)
	if err != nil {
		return nil, provider.ErrUnauthorized
	}

	ts := session.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := h.store.WriteTokenSet(w, r, name, ts); err != nil {
		h.logger.Error("failed to store refreshed tokens", "provider", name, "error", err)
	}

	return p.FetchProfile(r.Context(), token.AccessToken)
}

// Logout handles DELETE /auth/{provider}.
func (h *OAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	if err := h.store.Clear(w, r, p.Name()); err != nil {
		h.logger.Error("failed to clear session", "provider", p.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// stubPlatforms surface in the status payload but have no flow behind them.
var stubPlatforms = []string{"tiktok", "twitter"}

// Status handles GET /auth/status.
// Reports connection state per platform from stored-token presence only. No
// provider is contacted, so a stale access token can read as connected.
func (h *OAuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	authenticated := make(map[string]bool, len(h.providers)+len(stubPlatforms))
	for name := range h.providers {
		authenticated[name] = h.store.Connected(r, name)
	}
	for _, name := range stubPlatforms {
		authenticated[name] = false
	}

	writeJSON(w, http.StatusOK, map[string]any{"authenticated": authenticated})
}

func (h *OAuthHandler) provider(w http.ResponseWriter, r *http.Request) (provider.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return nil, false
	}
	return p, true
}

func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, h.baseURL+"/auth/error?message="+url.QueryEscape(message), http.StatusFound)
}
