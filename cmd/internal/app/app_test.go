package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BAE_TEST_STR", "  hello  ")
	t.Setenv("BAE_TEST_BOOL", "true")
	t.Setenv("BAE_TEST_INT", "42")
	t.Setenv("BAE_TEST_INT_BAD", "-3")
	t.Setenv("BAE_TEST_DUR", "90s")

	if got := EnvString("BAE_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("BAE_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if !EnvBool("BAE_TEST_BOOL", false) {
		t.Fatalf("EnvBool=false, want true")
	}
	if got := EnvInt("BAE_TEST_INT", 7); got != 42 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvInt("BAE_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("EnvInt negative should fall back, got %d", got)
	}
	if got := EnvDuration("BAE_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.DBSchema != "betabae" {
		t.Fatalf("DBSchema=%q", cfg.DBSchema)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("SessionTTL=%v", cfg.SessionTTL)
	}
	if cfg.MediaBaseURL != "/media" {
		t.Fatalf("MediaBaseURL=%q", cfg.MediaBaseURL)
	}
}

func TestLoggingResponseWriterPreservesHijacker(t *testing.T) {
	t.Parallel()

	// The recorder is not a Hijacker, so the wrapper must surface a clean
	// error rather than panic. Real servers provide a hijackable writer.
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := lrw.Hijack(); err == nil {
		t.Fatalf("expected hijack error on non-hijackable writer")
	}

	var asHijacker http.Hijacker = lrw
	_ = asHijacker
}

func TestLoggingResponseWriterCountsBytes(t *testing.T) {
	t.Parallel()

	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, err := lrw.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lrw.ReadFrom(strings.NewReader(" world")); err != nil {
		t.Fatalf("read from: %v", err)
	}
	if lrw.bytes != int64(len("hello world")) {
		t.Fatalf("bytes=%d, want %d", lrw.bytes, len("hello world"))
	}
}

func TestWithRequestLoggingCapturesStatus(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Body.String() != "short and stout" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

// TestAppWiringInMemory boots the full runtime with zero external services and
// walks a request through every mounted surface.
func TestAppWiringInMemory(t *testing.T) {
	cfg := LoadConfig()
	cfg.DatabaseURL = ""
	cfg.ValkeyAddr = ""
	cfg.MediaDir = ""
	cfg.BotAPIKey = ""

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.rest)

	ts := httptest.NewServer(WithRequestLogging(mux, log))
	defer ts.Close()

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, want)
		}
	}

	// The REST surface is mounted and reachable end to end.
	resp, err := http.Post(ts.URL+"/auth/register", "application/json",
		strings.NewReader(`{"username":"ada","display_name":"Ada","password":"s3cret-password"}`))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("register: status %d body %s", resp.StatusCode, body)
	}
}

func TestReadyzRequiresDBWhenConfigured(t *testing.T) {
	cfg := LoadConfig()
	cfg.ReadinessRequireDB = true

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.rest)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db: status %d, want 503", rr.Code)
	}
}
