package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"streamlens/internal/session"
)

const defaultTwitchAPIURL = "https://api.twitch.tv/helix"

var twitchEndpoint = oauth2.Endpoint{
	AuthURL:  "https://id.twitch.tv/oauth2/authorize",
	TokenURL: "https://id.twitch.tv/oauth2/token",
}

// Twitch implements Provider for the Twitch Helix platform.
type Twitch struct {
	cfg    *oauth2.Config
	client *http.Client
	apiURL string
}

// TwitchOption configures the Twitch provider during construction.
type TwitchOption func(*Twitch)

// WithTwitchAPIURL overrides the Helix base URL.
func WithTwitchAPIURL(baseURL string) TwitchOption {
	return func(t *Twitch) {
		t.apiURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTwitchEndpoint overrides the authorization and token endpoints.
func WithTwitchEndpoint(endpoint oauth2.Endpoint) TwitchOption {
	return func(t *Twitch) {
		t.cfg.Endpoint = endpoint
	}
}

// NewTwitch creates the Twitch provider. redirectURL must byte-for-byte
// match the URI registered with Twitch and the one the callback serves.
func NewTwitch(clientID, clientSecret, redirectURL string, client *http.Client, opts ...TwitchOption) *Twitch {
	t := &Twitch{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     twitchEndpoint,
			Scopes: []string{
				"user:read:email",
				"user:read:follows",
				"channel:read:subscriptions",
				"moderator:read:followers",
			},
		},
		client: client,
		apiURL: defaultTwitchAPIURL,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Name identifies the provider in routes and cookie names.
func (t *Twitch) Name() string { return TwitchName }

// AuthCodeURL generates the Twitch consent URL with the given state.
func (t *Twitch) AuthCodeURL(state string) string {
	return t.cfg.AuthCodeURL(state)
}

// Exchange trades the authorization code for a token pair.
func (t *Twitch) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := t.cfg.Exchange(clientContext(ctx, t.client), code)
	if err != nil {
		return nil, fmt.Errorf("twitch token exchange: %w", err)
	}
	return token, nil
}

// Refresh performs the refresh_token grant.
func (t *Twitch) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := t.cfg.TokenSource(clientContext(ctx, t.client), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("twitch token refresh: %w", err)
	}
	return token, nil
}

type twitchUsersResponse struct {
	Data []struct {
		ID              string `json:"id"`
		Login           string `json:"login"`
		DisplayName     string `json:"display_name"`
		ProfileImageURL string `json:"profile_image_url"`
		ViewCount       int64  `json:"view_count"`
		BroadcasterType string `json:"broadcaster_type"`
	} `json:"data"`
}

// FetchProfile calls the Helix users endpoint for the authenticated user.
func (t *Twitch) FetchProfile(ctx context.Context, accessToken string) (*session.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiURL+"/users", nil)
	if err != nil {
		return nil, fmt.Errorf("create twitch users request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", t.cfg.ClientID)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call twitch users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("twitch users: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitch users returned status %d", resp.StatusCode)
	}

	var payload twitchUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode twitch users response: %w", err)
	}

	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("twitch users returned no data")
	}

	user := payload.Data[0]
	return &session.Profile{
		ID:          user.ID,
		Login:       user.Login,
		DisplayName: user.DisplayName,
		AvatarURL:   user.ProfileImageURL,
	}, nil
}
