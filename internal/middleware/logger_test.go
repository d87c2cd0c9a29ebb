package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type stubCountries map[string]string

func (s stubCountries) CountryCode(ip string) (string, error) {
	if c, ok := s[ip]; ok {
		return c, nil
	}
	return "", errors.New("not found")
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := RequestID(Logger(logger, stubCountries{"203.0.113.7": "NZ"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.RemoteAddr = "203.0.113.7:4321"
	req.Header.Set("X-Request-ID", "rid-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"method":     "POST",
		"path":       "/generate",
		"status":     float64(http.StatusCreated),
		"bytes":      float64(5),
		"ip":         "203.0.113.7",
		"request_id": "rid-1",
		"country":    "NZ",
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("%s = %v, want %v (line %s)", k, line[k], v, buf.String())
		}
	}
}

func TestLoggerWithoutGeoIP(t *testing.T) {
	var buf bytes.Buffer
	handler := Logger(zerolog.New(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := line["country"]; ok {
		t.Fatalf("country must be absent without a resolver")
	}
	if line["status"] != float64(http.StatusOK) {
		t.Fatalf("status = %v", line["status"])
	}
}

func TestRequestIDMintsWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 36 {
		t.Fatalf("request id = %q, want uuid", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("response header = %q, want %q", rec.Header().Get("X-Request-ID"), seen)
	}
}
