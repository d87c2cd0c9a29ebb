package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moltpfp/internal/generation"
	"moltpfp/internal/http/handlers"
	"moltpfp/internal/infra"
	"moltpfp/internal/middleware"
	"moltpfp/internal/moltbook"
	"moltpfp/internal/providers/image"
)

func newTestRouter(t *testing.T, cfg *infra.Config) http.Handler {
	t.Helper()
	return newTestRouterWith(t, cfg, Options{AllowedOrigins: []string{"https://moodmolt.xyz"}, RateLimitPerMin: 100})
}

func newTestRouterWith(t *testing.T, cfg *infra.Config, opts Options) http.Handler {
	t.Helper()
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 512
	}
	providers, err := image.FromConfig(cfg, image.BuildOptions{})
	if err != nil {
		t.Fatalf("FromConfig error: %v", err)
	}
	jobs := generation.New(providers, generation.DefaultPolicy())
	directory := moltbook.NewClient(moltbook.Options{
		BaseURL:    cfg.MoltbookBaseURL,
		ProfileURL: cfg.MoltbookProfileURL,
	})
	app := handlers.NewApp(cfg, zerolog.Nop(), jobs, directory)
	return NewRouter(app, opts)
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateWithSyncProviderResolvesStatusLocally(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://img.example/lobster.png"}]}`))
	}))
	defer srv.Close()

	router := newTestRouter(t, &infra.Config{
		Providers:     []string{"openai"},
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: srv.URL,
	})

	rec := doRequest(router, http.MethodPost, "/generate", `{"prompt":"a lobster molting"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, _ := body["id"].(string)
	if !strings.HasPrefix(id, "sync_") || body["status"] != "succeeded" {
		t.Fatalf("generate body = %v", body)
	}

	rec = doRequest(router, http.MethodGet, "/status/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d body=%s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	output, _ := body["output"].([]any)
	if body["status"] != "succeeded" || len(output) != 1 || output[0] != "https://img.example/lobster.png" {
		t.Fatalf("status body = %v", body)
	}
	if calls.Load() != 1 {
		t.Fatalf("remote calls = %d, want 1", calls.Load())
	}
}

func TestGenerateWithAsyncProviderPollsOnStatus(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			if got := r.Header.Get("Authorization"); got != "Token r8-test" {
				t.Errorf("authorization = %q", got)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pred123","status":"starting"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/pred123":
			if polls.Add(1) == 1 {
				_, _ = w.Write([]byte(`{"id":"pred123","status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"pred123","status":"succeeded","output":["https://replicate.delivery/out.png"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	router := newTestRouter(t, &infra.Config{
		Providers:        []string{"replicate"},
		ReplicateAPIKey:  "r8-test",
		ReplicateBaseURL: srv.URL,
	})

	rec := doRequest(router, http.MethodPost, "/generate", `{"prompt":"a lobster molting"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["id"] != "replicate_pred123" || body["status"] != "pending" {
		t.Fatalf("generate body = %v", body)
	}

	rec = doRequest(router, http.MethodGet, "/status/replicate_pred123", "")
	if body = decodeBody(t, rec); body["status"] != "pending" {
		t.Fatalf("first status = %v", body)
	}
	rec = doRequest(router, http.MethodGet, "/status/replicate_pred123", "")
	body = decodeBody(t, rec)
	output, _ := body["output"].([]any)
	if body["status"] != "succeeded" || len(output) != 1 || output[0] != "https://replicate.delivery/out.png" {
		t.Fatalf("second status = %v", body)
	}
}

func TestGenerateRejectsInvalidPrompt(t *testing.T) {
	router := newTestRouter(t, &infra.Config{Providers: []string{"openai"}, OpenAIAPIKey: "sk-test"})
	for _, body := range []string{`{"prompt":"   "}`, `not json`, `{}`} {
		rec := doRequest(router, http.MethodPost, "/generate", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
		if got := decodeBody(t, rec)["error"]; got != "Invalid prompt" {
			t.Fatalf("body %q: error = %v", body, got)
		}
	}
}

func TestUnconfiguredProxy(t *testing.T) {
	router := newTestRouter(t, &infra.Config{Providers: []string{"replicate", "openai"}})

	rec := doRequest(router, http.MethodPost, "/generate", `{"prompt":"a lobster"}`)
	if rec.Code != http.StatusInternalServerError || decodeBody(t, rec)["error"] != "API not configured" {
		t.Fatalf("generate = %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(router, http.MethodGet, "/status/replicate_abc", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("async status = %d %s", rec.Code, rec.Body.String())
	}

	// sync ids carry their result and resolve without a provider.
	id := "sync_" + base64.RawURLEncoding.EncodeToString([]byte("https://img.example/a.png"))
	rec = doRequest(router, http.MethodGet, "/status/"+id, "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "succeeded" {
		t.Fatalf("sync status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestProviderRejectionIsPassedThroughSanitized(t *testing.T) {
	const key = "sk-very-secret-key"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"prompt refused for key ` + key + `"}}`))
	}))
	defer srv.Close()

	router := newTestRouter(t, &infra.Config{
		Providers:     []string{"openai"},
		OpenAIAPIKey:  key,
		OpenAIBaseURL: srv.URL,
	})
	rec := doRequest(router, http.MethodPost, "/generate", `{"prompt":"a lobster"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), key) {
		t.Fatalf("secret leaked: %s", rec.Body.String())
	}
	if got, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(got, "[redacted]") {
		t.Fatalf("error = %q", got)
	}
}

func TestInvalidJobID(t *testing.T) {
	router := newTestRouter(t, &infra.Config{Providers: []string{"openai"}, OpenAIAPIKey: "sk-test"})
	for _, id := range []string{"garbage", "sync_%21%21%21"} {
		rec := doRequest(router, http.MethodGet, "/status/"+id, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("id %q: status = %d", id, rec.Code)
		}
	}
}

func TestRouterFallbacksAndPreflight(t *testing.T) {
	router := newTestRouter(t, &infra.Config{Providers: []string{"openai"}, OpenAIAPIKey: "sk-test"})

	rec := doRequest(router, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["error"] != "Not found" {
		t.Fatalf("not found = %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(router, http.MethodGet, "/generate", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method not allowed = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "https://moodmolt.xyz")
	pre := httptest.NewRecorder()
	router.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", pre.Code)
	}
	if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "https://moodmolt.xyz" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &infra.Config{Providers: []string{"replicate", "openai"}, OpenAIAPIKey: "sk-test"})
	rec := doRequest(router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status    string `json:"status"`
		Service   string `json:"service"`
		Preferred string `json:"preferred"`
		Active    string `json:"active"`
		Providers []struct {
			Name       string `json:"name"`
			Kind       string `json:"kind"`
			Configured bool   `json:"configured"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "moltpfp-proxy" || body.Preferred != "replicate" || body.Active != "openai" {
		t.Fatalf("health = %+v", body)
	}
	if len(body.Providers) != 2 || body.Providers[0].Configured || !body.Providers[1].Configured {
		t.Fatalf("providers = %+v", body.Providers)
	}
}

func TestMoltbookRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/u/alice":
			w.WriteHeader(http.StatusOK)
		case "/api/users/alice":
			_, _ = w.Write([]byte(`{"name":"alice","karma":7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	router := newTestRouter(t, &infra.Config{
		Providers:          []string{"openai"},
		MoltbookBaseURL:    srv.URL + "/api",
		MoltbookProfileURL: srv.URL,
	})

	rec := doRequest(router, http.MethodGet, "/moltbook/verify/alice", "")
	if body := decodeBody(t, rec); rec.Code != http.StatusOK || body["exists"] != true {
		t.Fatalf("verify alice = %d %v", rec.Code, body)
	}
	rec = doRequest(router, http.MethodGet, "/moltbook/verify/ghost", "")
	if body := decodeBody(t, rec); rec.Code != http.StatusOK || body["exists"] != false {
		t.Fatalf("verify ghost = %d %v", rec.Code, body)
	}

	rec = doRequest(router, http.MethodGet, "/moltbook/agent/alice", "")
	if body := decodeBody(t, rec); rec.Code != http.StatusOK || body["name"] != "alice" {
		t.Fatalf("agent alice = %d %v", rec.Code, body)
	}
	rec = doRequest(router, http.MethodGet, "/moltbook/agent/ghost", "")
	body := decodeBody(t, rec)
	if rec.Code != http.StatusNotFound || body["error"] != "Agent not found" || body["username"] != "ghost" {
		t.Fatalf("agent ghost = %d %v", rec.Code, body)
	}
}

func TestSlowSyncProviderAnswersBeforeWriteDeadline(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
			_, _ = w.Write([]byte(`{"data":[{"url":"https://img.example/late.png"}]}`))
		}
	}))
	defer provider.Close()

	router := newTestRouter(t, &infra.Config{
		Providers:       []string{"openai"},
		OpenAIAPIKey:    "sk-test",
		OpenAIBaseURL:   provider.URL,
		GenerateTimeout: 150 * time.Millisecond,
	})
	proxy := httptest.NewUnstartedServer(router)
	proxy.Config.WriteTimeout = time.Second
	proxy.Start()
	defer proxy.Close()

	resp, err := http.Post(proxy.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"a lobster"}`))
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Generation timed out" {
		t.Fatalf("body = %v", body)
	}
}

func TestUnconfiguredProxyAnswersBeforeReadingBody(t *testing.T) {
	router := newTestRouter(t, &infra.Config{Providers: []string{"openai"}})
	rec := doRequest(router, http.MethodPost, "/generate", `not json`)
	if rec.Code != http.StatusInternalServerError || decodeBody(t, rec)["error"] != "API not configured" {
		t.Fatalf("generate = %d %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateRateLimitKeysOnPeer(t *testing.T) {
	trusted, err := middleware.ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	cfg := &infra.Config{Providers: []string{"openai"}, OpenAIAPIKey: "sk-test"}
	router := newTestRouterWith(t, cfg, Options{RateLimitPerMin: 2, TrustedProxies: trusted})

	post := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{}`))
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	limited := 0
	for i := 0; i < 20; i++ {
		if post("203.0.113.7:4000", fmt.Sprintf("198.51.100.%d", i+1)) == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 18 {
		t.Fatalf("limited = %d, want 18", limited)
	}

	// Behind a trusted proxy each forwarded client has its own budget.
	for i := 0; i < 5; i++ {
		if code := post("10.0.0.5:4000", fmt.Sprintf("192.0.2.%d", i+1)); code != http.StatusBadRequest {
			t.Fatalf("client %d status = %d, want 400", i, code)
		}
	}
}
