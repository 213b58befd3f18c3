package music

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	tracks    []Track
	err       error
	lastQuery string
	lastLimit int
}

func (s *stubCatalog) SearchTracks(_ context.Context, query string, limit int) ([]Track, error) {
	s.lastQuery = query
	s.lastLimit = limit
	return s.tracks, s.err
}

func TestRecommendBuildsSongSnippet(t *testing.T) {
	catalog := &stubCatalog{tracks: []Track{
		{Name: "Way Maker", Artist: "Sinach", URL: "https://open.spotify.com/track/1"},
		{Name: "Goodness of God", Artist: "Bethel Music", URL: "https://open.spotify.com/track/2"},
	}}
	r := NewRecommender(catalog, 20)
	r.pick = func(n int) int { return n - 1 }

	got := r.Recommend(context.Background(), "comforting")

	assert.Equal(t, "gospel comforting", catalog.lastQuery)
	assert.Equal(t, 20, catalog.lastLimit)
	assert.Equal(t,
		`<div>I found a gospel song for you: <strong>'Goodness of God'</strong> by <em>Bethel Music</em>. `+
			`<a href="https://open.spotify.com/track/2" target="_blank" class="spotify-btn"><i class="fab fa-spotify"></i> Listen on Spotify</a></div>`,
		got,
	)
}

func TestRecommendNoResults(t *testing.T) {
	r := NewRecommender(&stubCatalog{}, 0)
	assert.Equal(t, NoSongFound, r.Recommend(context.Background(), "joyful"))
}

func TestRecommendSearchError(t *testing.T) {
	r := NewRecommender(&stubCatalog{err: errors.New("timeout")}, 5)
	assert.Equal(t, "Error searching for a song: timeout", r.Recommend(context.Background(), "praise"))
}

func TestRecommendEscapesTrackFields(t *testing.T) {
	r := NewRecommender(&stubCatalog{tracks: []Track{{Name: "<script>", Artist: "A & B", URL: "u"}}}, 5)
	got := r.Recommend(context.Background(), "worship")
	assert.Contains(t, got, "&lt;script&gt;")
	assert.Contains(t, got, "A &amp; B")
}

func newSpotifyServer(t *testing.T, tokenCalls *int32, searchStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "gospel joyful", r.URL.Query().Get("q"))
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		if searchStatus != http.StatusOK {
			w.WriteHeader(searchStatus)
			_, _ = w.Write([]byte(`{"error":{"status":500,"message":"boom"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"tracks":{"items":[
			{"name":"Joyful Joyful","artists":[{"name":"Choir"}],"external_urls":{"spotify":"https://open.spotify.com/track/9"}}
		]}}`))
	})
	return httptest.NewServer(mux)
}

func TestSpotifyClientSearchCachesToken(t *testing.T) {
	var tokenCalls int32
	server := newSpotifyServer(t, &tokenCalls, http.StatusOK)
	defer server.Close()

	client := NewSpotifyClient(SpotifyConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		APIBaseURL:   server.URL + "/v1",
		AuthURL:      server.URL + "/api/token",
		Timeout:      2 * time.Second,
	})

	for i := 0; i < 2; i++ {
		tracks, err := client.SearchTracks(context.Background(), "gospel joyful", 3)
		require.NoError(t, err)
		require.Len(t, tracks, 1)
		assert.Equal(t, Track{Name: "Joyful Joyful", Artist: "Choir", URL: "https://open.spotify.com/track/9"}, tracks[0])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestSpotifyClientRefreshesExpiredToken(t *testing.T) {
	var tokenCalls int32
	server := newSpotifyServer(t, &tokenCalls, http.StatusOK)
	defer server.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	client := NewSpotifyClient(SpotifyConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		APIBaseURL:   server.URL + "/v1",
		AuthURL:      server.URL + "/api/token",
	})
	client.now = func() time.Time { return now }

	_, err := client.SearchTracks(context.Background(), "gospel joyful", 3)
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = client.SearchTracks(context.Background(), "gospel joyful", 3)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestSpotifyClientSearchError(t *testing.T) {
	var tokenCalls int32
	server := newSpotifyServer(t, &tokenCalls, http.StatusInternalServerError)
	defer server.Close()

	client := NewSpotifyClient(SpotifyConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		APIBaseURL:   server.URL + "/v1",
		AuthURL:      server.URL + "/api/token",
	})
	_, err := client.SearchTracks(context.Background(), "gospel joyful", 3)
	require.Error(t, err)
	assert.Equal(t, "spotify search failed (500): boom", err.Error())
}

func TestSpotifyClientTokenErrorUsesDescription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Invalid client secret"}`))
	}))
	defer server.Close()

	client := NewSpotifyClient(SpotifyConfig{
		ClientID:     "id",
		ClientSecret: "wrong",
		APIBaseURL:   server.URL + "/v1",
		AuthURL:      server.URL + "/api/token",
	})
	_, err := client.SearchTracks(context.Background(), "gospel joyful", 3)
	require.Error(t, err)
	assert.Equal(t, "spotify token request failed (400): Invalid client secret", err.Error())
}

func TestSpotifyClientRequiresCredentials(t *testing.T) {
	client := NewSpotifyClient(SpotifyConfig{})
	_, err := client.SearchTracks(context.Background(), "gospel praise", 1)
	assert.Error(t, err)
}
