package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// tokenSkew refreshes the access token a little before Spotify expires it.
const tokenSkew = 30 * time.Second

type Track struct {
	Name   string
	Artist string
	URL    string
}

type Catalog interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]Track, error)
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	AuthURL      string
	Timeout      time.Duration
}

// SpotifyClient searches the Spotify Web API using the client credentials
// flow.
type SpotifyClient struct {
	cfg  SpotifyConfig
	http *resty.Client
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchResponse struct {
	Tracks struct {
		Items []struct {
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			ExternalURLs struct {
				Spotify string `json:"spotify"`
			} `json:"external_urls"`
		} `json:"items"`
	} `json:"tracks"`
}

// apiError covers both Spotify error shapes: the Web API nests
// {"error":{"status","message"}} while the accounts service returns
// {"error":"code","error_description":"..."}.
type apiError struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (e apiError) message() string {
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	var code string
	if err := json.Unmarshal(e.Error, &code); err == nil {
		return code
	}
	return ""
}

func failureText(failure apiError, resp *resty.Response) string {
	if msg := failure.message(); msg != "" {
		return msg
	}
	return strings.TrimSpace(resp.String())
}

func NewSpotifyClient(cfg SpotifyConfig) *SpotifyClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.spotify.com/v1"
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://accounts.spotify.com/api/token"
	}
	client := resty.New().SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/"))
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &SpotifyClient{cfg: cfg, http: client, now: time.Now}
}

func (c *SpotifyClient) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var result searchResponse
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"q":     query,
			"type":  "track",
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&result).
		SetError(&failure).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("spotify search request: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		c.resetToken()
	}
	if resp.IsError() {
		return nil, fmt.Errorf("spotify search failed (%d): %s", resp.StatusCode(), failureText(failure, resp))
	}

	tracks := make([]Track, 0, len(result.Tracks.Items))
	for _, item := range result.Tracks.Items {
		track := Track{Name: item.Name, URL: item.ExternalURLs.Spotify}
		if len(item.Artists) > 0 {
			track.Artist = item.Artists[0].Name
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

func (c *SpotifyClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", errors.New("spotify client credentials are not configured")
	}

	var token tokenResponse
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&token).
		SetError(&failure).
		Post(c.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("spotify token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("spotify token request failed (%d): %s", resp.StatusCode(), failureText(failure, resp))
	}
	if token.AccessToken == "" {
		return "", errors.New("spotify token response missing access_token")
	}

	c.token = token.AccessToken
	c.expiresAt = c.now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *SpotifyClient) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
