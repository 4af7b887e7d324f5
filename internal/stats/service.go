// Package stats fetches analytics overviews from the connected platforms'
// APIs on behalf of the dashboard. It is the server-side counterpart of the
// per-platform API calls the frontend would otherwise make itself.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamlens/internal/provider"
	"streamlens/internal/session"
)

const (
	defaultTwitchAPIURL  = "https://api.twitch.tv/helix"
	defaultYouTubeAPIURL = "https://www.googleapis.com/youtube/v3"

	recentVideoLimit = 5
)

// Service performs authenticated calls against provider analytics APIs.
type Service struct {
	client         *http.Client
	twitchClientID string
	twitchAPIURL   string
	youtubeAPIURL  string
}

// Option configures the Service during construction.
type Option func(*Service)

// WithTwitchAPIURL overrides the Helix base URL.
func WithTwitchAPIURL(baseURL string) Option {
	return func(s *Service) {
		s.twitchAPIURL = strings.TrimRight(baseURL, "/")
	}
}

// WithYouTubeAPIURL overrides the YouTube Data API base URL.
func WithYouTubeAPIURL(baseURL string) Option {
	return func(s *Service) {
		s.youtubeAPIURL = strings.TrimRight(baseURL, "/")
	}
}

// NewService constructs a Service. The Twitch client id is required as a
// header on every Helix call.
func NewService(client *http.Client, twitchClientID string, opts ...Option) *Service {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	svc := &Service{
		client:         client,
		twitchClientID: twitchClientID,
		twitchAPIURL:   defaultTwitchAPIURL,
		youtubeAPIURL:  defaultYouTubeAPIURL,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// TwitchVideo is one past broadcast.
type TwitchVideo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	ViewCount   int64  `json:"view_count"`
	Duration    string `json:"duration"`
	PublishedAt string `json:"published_at"`
}

// TwitchOverview aggregates the channel's headline numbers.
type TwitchOverview struct {
	Profile   session.Profile `json:"profile"`
	Followers int64           `json:"followers"`
	Live      bool            `json:"live"`
	Videos    []TwitchVideo   `json:"videos"`
}

// YouTubeOverview aggregates the channel's headline numbers.
type YouTubeOverview struct {
	Profile     session.Profile `json:"profile"`
	Subscribers int64           `json:"subscribers"`
	Views       int64           `json:"views"`
	Videos      int64           `json:"videos"`
}

// TwitchOverview fetches profile, follower total, live status, and recent
// broadcasts. Wraps provider.ErrUnauthorized when Helix rejects the token so
// callers can refresh once and retry.
func (s *Service) TwitchOverview(ctx context.Context, accessToken string) (TwitchOverview, error) {
	var users struct {
		Data []struct {
			ID              string `json:"id"`
			Login           string `json:"login"`
			DisplayName     string `json:"display_name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := s.twitchGet(ctx, accessToken, "/users", nil, &users); err != nil {
		return TwitchOverview{}, err
	}
	if len(users.Data) == 0 {
		return TwitchOverview{}, fmt.Errorf("twitch users returned no data")
	}
	user := users.Data[0]

	overview := TwitchOverview{
		Profile: session.Profile{
			ID:          user.ID,
			Login:       user.Login,
			DisplayName: user.DisplayName,
			AvatarURL:   user.ProfileImageURL,
		},
		Videos: []TwitchVideo{},
	}

	var followers struct {
		Total int64 `json:"total"`
	}
	if err := s.twitchGet(ctx, accessToken, "/channels/followers", url.Values{"broadcaster_id": {user.ID}}, &followers); err != nil {
		return TwitchOverview{}, err
	}
	overview.Followers = followers.Total

	var streams struct {
		Data []struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := s.twitchGet(ctx, accessToken, "/streams", url.Values{"user_id": {user.ID}}, &streams); err != nil {
		return TwitchOverview{}, err
	}
	overview.Live = len(streams.Data) > 0

	var videos struct {
		Data []TwitchVideo `json:"data"`
	}
	params := url.Values{"user_id": {user.ID}, "first": {strconv.Itoa(recentVideoLimit)}}
	if err := s.twitchGet(ctx, accessToken, "/videos", params, &videos); err != nil {
		return TwitchOverview{}, err
	}
	if videos.Data != nil {
		overview.Videos = videos.Data
	}

	return overview, nil
}

// YouTubeOverview fetches the channel snippet and statistics.
func (s *Service) YouTubeOverview(ctx context.Context, accessToken string) (YouTubeOverview, error) {
	var channels struct {
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

	params := url.Values{"part": {"snippet,statistics"}, "mine": {"true"}}
	if err := s.getJSON(ctx, s.youtubeAPIURL+"/channels?"+params.Encode(), accessToken, nil, &channels); err != nil {
		return YouTubeOverview{}, err
	}
	if len(channels.Items) == 0 {
		return YouTubeOverview{}, fmt.Errorf("youtube channels returned no items")
	}
	channel := channels.Items[0]

	return YouTubeOverview{
		Profile: session.Profile{
			ID:          channel.ID,
			Login:       strings.TrimPrefix(channel.Snippet.CustomURL, "@"),
			DisplayName: channel.Snippet.Title,
			AvatarURL:   channel.Snippet.Thumbnails.High.URL,
		},
		Subscribers: parseCount(channel.Statistics.SubscriberCount),
		Views:       parseCount(channel.Statistics.ViewCount),
		Videos:      parseCount(channel.Statistics.VideoCount),
	}, nil
}

func (s *Service) twitchGet(ctx context.Context, accessToken, path string, params url.Values, dst any) error {
	endpoint := s.twitchAPIURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	headers := map[string]string{"Client-Id": s.twitchClientID}
	return s.getJSON(ctx, endpoint, accessToken, headers, dst)
}

func (s *Service) getJSON(ctx context.Context, endpoint, accessToken string, headers map[string]string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", req.URL.Path, provider.ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", req.URL.Path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// parseCount tolerates the YouTube API reporting counts as strings.
func parseCount(value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
