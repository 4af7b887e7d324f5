package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamlens/internal/provider"
	"streamlens/internal/session"
	"streamlens/internal/stats"
)

// StatsHandler serves aggregated analytics for connected platforms. It owns
// the reactive refresh: a provider 401 triggers exactly one refresh and one
// retry before the session is declared expired.
type StatsHandler struct {
	service   *stats.Service
	providers map[string]provider.Provider
	store     session.Store
	logger    *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(service *stats.Service, providers map[string]provider.Provider, store session.Store, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		service:   service,
		providers: providers,
		store:     store,
		logger:    logger,
	}
}

// Overview handles GET /api/stats/{provider}.
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	ts, ok := h.store.TokenSet(r, name)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not connected to "+name)
		return
	}

	overview, err := h.fetch(r.Context(), name, ts.AccessToken)
	if errors.Is(err, provider.ErrUnauthorized) {
		overview, err = h.retryWithRefresh(w, r, p)
	}
	if errors.Is(err, provider.ErrUnauthorized) {
		// Second rejection after a refresh is terminal.
		if clearErr := h.store.Clear(w, r, name); clearErr != nil {
			h.logger.Error("failed to clear session", "provider", name, "error", clearErr)
		}
		writeError(w, http.StatusUnauthorized, "Session expired. Please re-authenticate.")
		return
	}
	if err != nil {
		h.logger.Error("stats fetch failed", "provider", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch stats")
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

func (h *StatsHandler) retryWithRefresh(w http.ResponseWriter, r *http.Request, p provider.Provider) (any, error) {
	name := p.Name()

	refreshToken, ok := h.store.RefreshToken(r, name)
	if !ok {
		return nil, provider.ErrUnauthorized
	}

	token, err := p.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.logger.Warn("reactive refresh failed", "provider", name, "error", err)
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

	return h.fetch(r.Context(), name, token.AccessToken)
}

func (h *StatsHandler) fetch(ctx context.Context, name, accessToken string) (any, error) {
	switch name {
	case provider.TwitchName:
		return h.service.TwitchOverview(ctx, accessToken)
	case provider.YouTubeName:
		return h.service.YouTubeOverview(ctx, accessToken)
	default:
		return nil, errors.New("stats not supported for " + name)
	}
}
