package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"streamlens/internal/session"
)

const (
	googleIssuer         = "https://accounts.google.com"
	defaultYouTubeAPIURL = "https://www.googleapis.com/youtube/v3"
)

// YouTube implements Provider for YouTube channels via Google OAuth.
type YouTube struct {
	cfg      *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
	apiURL   string
}

// NewYouTube creates the YouTube provider. Google's endpoints are resolved
// through OIDC discovery, so construction requires network access and fails
// fast when the issuer is unreachable.
func NewYouTube(ctx context.Context, clientID, clientSecret, redirectURL string, client *http.Client) (*YouTube, error) {
	oidcProvider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc provider: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     oidcProvider.Endpoint(),
		Scopes: []string{
			oidc.ScopeOpenID,
			"https://www.googleapis.com/auth/youtube.readonly",
		},
	}

	return &YouTube{
		cfg:      cfg,
		verifier: oidcProvider.Verifier(&oidc.Config{ClientID: clientID}),
		client:   client,
		apiURL:   defaultYouTubeAPIURL,
	}, nil
}

// Name identifies the provider in routes and cookie names.
func (y *YouTube) Name() string { return YouTubeName }

// AuthCodeURL generates the Google consent URL. Offline access plus a forced
// consent prompt is the only combination under which Google issues a refresh
// token on repeat authorizations.
func (y *YouTube) AuthCodeURL(state string) string {
	return y.cfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades the authorization code for a token pair. When the response
// carries an id_token it must verify against Google's signing keys; a token
// that fails verification is rejected.
func (y *YouTube) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := y.cfg.Exchange(clientContext(ctx, y.client), code)
	if err != nil {
		return nil, fmt.Errorf("youtube token exchange: %w", err)
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && y.verifier != nil {
		if _, err := y.verifier.Verify(ctx, rawIDToken); err != nil {
			return nil, fmt.Errorf("verify id_token: %w", err)
		}
	}

	return token, nil
}

// Refresh performs the refresh_token grant. Google does not rotate refresh
// tokens, so the returned pair keeps the one passed in.
func (y *YouTube) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := y.cfg.TokenSource(clientContext(ctx, y.client), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("youtube token refresh: %w", err)
	}
	return token, nil
}

type youtubeChannelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title      string `json:"title"`
			CustomURL  string `json:"customUrl"`
			Thumbnails struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount       string `json:"viewCount"`
			SubscriberCount string `json:"subscriberCount"`
			VideoCount      string `json:"videoCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// FetchProfile fetches the authenticated user's channel with its statistics.
func (y *YouTube) FetchProfile(ctx context.Context, accessToken string) (*session.Profile, error) {
	endpoint := y.apiURL + "/channels?" + url.Values{
		"part": {"snippet,statistics"},
		"mine": {"true"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create youtube channels request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call youtube channels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("youtube channels: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube channels returned status %d", resp.StatusCode)
	}

	var payload youtubeChannelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode youtube channels response: %w", err)
	}

	if len(payload.Items) == 0 {
		return nil, fmt.Errorf("youtube channels returned no items")
	}

	channel := payload.Items[0]
	return &session.Profile{
		ID:          channel.ID,
		Login:       strings.TrimPrefix(channel.Snippet.CustomURL, "@"),
		DisplayName: channel.Snippet.Title,
		AvatarURL:   channel.Snippet.Thumbnails.High.URL,
		Stats: map[string]string{
			"subscriberCount": channel.Statistics.SubscriberCount,
			"viewCount":       channel.Statistics.ViewCount,
			"videoCount":      channel.Statistics.VideoCount,
		},
	}, nil
}
