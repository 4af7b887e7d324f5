package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"streamlens/internal/session"
)

// Provider names double as route parameters and cookie name prefixes.
const (
	TwitchName  = "twitch"
	YouTubeName = "youtube"
)

// ErrUnauthorized is returned when the provider rejects the access token.
// Callers may refresh once and retry; a second rejection is terminal.
var ErrUnauthorized = errors.New("provider rejected access token")

// Provider is one OAuth2 platform, parameterized so a single flow handler
// serves every platform.
type Provider interface {
	Name() string
	// AuthCodeURL builds the consent page URL embedding the CSRF state.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for tokens. Single attempt, no
	// retries.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// Refresh trades a refresh token for a new token pair. The returned
	// token keeps the old refresh token when the provider does not rotate.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	// FetchProfile calls the identity endpoint with the access token and
	// returns a snapshot. Wraps ErrUnauthorized on HTTP 401.
	FetchProfile(ctx context.Context, accessToken string) (*session.Profile, error)
}

const outboundTimeout = 10 * time.Second

// NewHTTPClient builds the client used for all provider calls. TLS
// verification may be skipped for development against local stand-ins; the
// setting is scoped to this client instance, never process-wide.
func NewHTTPClient(insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   outboundTimeout,
		Transport: transport,
	}
}

// clientContext routes oauth2's internal HTTP calls through our bounded
// client instead of http.DefaultClient.
func clientContext(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// ExchangeErrorMessage maps a token-endpoint failure to the user-facing
// message shown on the error page. Never includes token or secret material.
func ExchangeErrorMessage(displayName string, err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		switch retrieveErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return "Unauthorized: Invalid client credentials"
		case http.StatusBadRequest:
			return "Bad request: " + badRequestDetail(retrieveErr)
		}
	}
	return "Failed to authenticate with " + displayName
}

func badRequestDetail(err *oauth2.RetrieveError) string {
	if err.ErrorDescription != "" {
		return err.ErrorDescription
	}

	// Twitch reports errors as {"message": "..."} rather than the standard
	// error/error_description pair.
	var body struct {
		Message string `json:"message"`
	}
	if jsonErr := json.Unmarshal(err.Body, &body); jsonErr == nil && body.Message != "" {
		return body.Message
	}

	return "Invalid parameters"
}
