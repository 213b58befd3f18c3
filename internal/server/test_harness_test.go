package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"heartpsalm/backend/internal/ai"
	"heartpsalm/backend/internal/auth"
	"heartpsalm/backend/internal/cache"
	"heartpsalm/backend/internal/chat"
	"heartpsalm/backend/internal/config"
	"heartpsalm/backend/internal/db"
	"heartpsalm/backend/internal/music"
	"heartpsalm/backend/internal/store"
	"heartpsalm/backend/internal/store/memstore"
)

var (
	testPool              *pgxpool.Pool
	baseTestConfig        config.Config
	integrationDBReady    bool
	integrationSkipReason string
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	baseTestConfig = newTestConfig()

	testDatabaseURL := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDatabaseURL == "" {
		integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not set"
		os.Exit(m.Run())
	}

	if err := db.Migrate(testDatabaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "integration test setup failed: migrate TEST_DATABASE_URL: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, testDatabaseURL)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration test setup failed: cannot connect TEST_DATABASE_URL: %v\n", err)
		os.Exit(1)
	}

	testPool = pool
	integrationDBReady = true

	exitCode := m.Run()
	testPool.Close()
	os.Exit(exitCode)
}

func newTestConfig() config.Config {
	return config.Config{
		AppEnv:            "test",
		AppName:           "HeartPsalm Test",
		AppPort:           "0",
		DBDriver:          "memory",
		SecretKey:         "test-secret-1234567890",
		SessionCookieName: "heartpsalm_session",
		SessionTTLHours:   1,
		CacheType:         "simple",
		CacheKeyPrefix:    "test",
		CacheTimeoutSecs:  60,
		SongSearchLimit:   5,
		AIProvider:        "mock",
		CORSAllowOrigins:  []string{"http://localhost:5000"},
	}
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if !integrationDBReady {
		if integrationSkipReason == "" {
			integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not configured"
		}
		t.Skip(integrationSkipReason)
	}
}

type stubCatalog struct {
	tracks []music.Track
}

func (s stubCatalog) SearchTracks(context.Context, string, int) ([]music.Track, error) {
	return s.tracks, nil
}

// testClient drives the router like a browser: it keeps cookies between
// requests and does not follow redirects.
type testClient struct {
	t      *testing.T
	router http.Handler
	repo   store.Repository
	jar    map[string]*http.Cookie
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	return newTestClientWithRepo(t, memstore.New())
}

func newPostgresTestClient(t *testing.T) *testClient {
	t.Helper()
	requireIntegration(t)
	return newTestClientWithRepo(t, store.NewPostgresRepository(testPool))
}

func newTestClientWithRepo(t *testing.T, repo store.Repository) *testClient {
	t.Helper()
	cfg := baseTestConfig

	if err := repo.SeedInstructions(context.Background(), store.DefaultInstructions); err != nil {
		t.Fatalf("seed instructions: %v", err)
	}

	model := ai.MockClient{}
	catalog := stubCatalog{tracks: []music.Track{
		{Name: "Goodness of God", Artist: "Bethel Music", URL: "https://open.spotify.com/track/goodness"},
	}}
	orchestrator := chat.NewOrchestrator(chat.Deps{
		History:      store.NewHistoryStore(repo, cache.NewMemoryCache(), cfg.CacheTTL(), cfg.CacheKeyPrefix),
		Instructions: repo,
		Classifier:   chat.NewClassifier(model),
		Songs:        music.NewRecommender(catalog, cfg.SongSearchLimit),
		Responder:    chat.NewResponder(model),
		Cache:        cache.NewMemoryCache(),
	}, chat.Options{CallTimeout: 5 * time.Second, KeyPrefix: cfg.CacheKeyPrefix})

	app := New(cfg, Deps{
		Auth:   auth.NewService(repo, auth.WithBcryptCost(bcrypt.MinCost)),
		Tokens: auth.NewTokenManager(cfg.SecretKey, cfg.AppName, cfg.SessionTTL()),
		Chat:   orchestrator,
		Logger: zerolog.Nop(),
	})

	return &testClient{
		t:      t,
		router: app.Router(),
		repo:   repo,
		jar:    make(map[string]*http.Cookie),
	}
}

func (tc *testClient) send(req *http.Request) *httptest.ResponseRecorder {
	tc.t.Helper()
	for _, cookie := range tc.jar {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	tc.router.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(tc.jar, cookie.Name)
			continue
		}
		tc.jar[cookie.Name] = &http.Cookie{Name: cookie.Name, Value: cookie.Value}
	}
	return rec
}

func (tc *testClient) get(path string) *httptest.ResponseRecorder {
	tc.t.Helper()
	return tc.send(httptest.NewRequest(http.MethodGet, path, nil))
}

func (tc *testClient) postForm(path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	tc.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return tc.send(req)
}

func (tc *testClient) postJSON(path string, body any) *httptest.ResponseRecorder {
	tc.t.Helper()
	var payload io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			tc.t.Fatalf("marshal request body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(http.MethodPost, path, payload)
	req.Header.Set("Content-Type", "application/json")
	return tc.send(req)
}

// register creates an account and leaves the client signed in.
func (tc *testClient) register(username string) {
	tc.t.Helper()
	rec := tc.postForm("/register", url.Values{
		"username":      {username},
		"email_address": {username + "@example.com"},
		"password1":     {"secret123"},
		"password2":     {"secret123"},
	}, nil)
	requireRedirect(tc.t, rec, "/chat")
}

func (tc *testClient) chatView() map[string]any {
	tc.t.Helper()
	rec := tc.get("/chat")
	if rec.Code != http.StatusOK {
		tc.t.Fatalf("expected chat view 200, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeJSONMap(tc.t, rec)
}

func requireRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != location {
		t.Fatalf("expected redirect to %s, got %s", location, got)
	}
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response JSON: %v; body=%s", err, rec.Body.String())
	}
	return payload
}

func decodeList(t *testing.T, raw any) []map[string]any {
	t.Helper()
	values, ok := raw.([]any)
	if !ok {
		t.Fatalf("expected []any, got %T", raw)
	}
	result := make([]map[string]any, 0, len(values))
	for _, item := range values {
		m, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("expected object list item, got %T", item)
		}
		result = append(result, m)
	}
	return result
}

func flashMessages(t *testing.T, body map[string]any) []string {
	t.Helper()
	flashes := decodeList(t, body["flashes"])
	out := make([]string, 0, len(flashes))
	for _, f := range flashes {
		msg, _ := f["message"].(string)
		out = append(out, msg)
	}
	return out
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func responseDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSONMap(t, rec)
	detail, _ := body["detail"].(string)
	return detail
}

func testUsername() string {
	return "u" + uuid.NewString()[:8]
}
