package http_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/adapters/archive"
	"github.com/xancrypt/xancrypt/adapters/auth"
	"github.com/xancrypt/xancrypt/adapters/clock"
	"github.com/xancrypt/xancrypt/adapters/hasher"
	xhttp "github.com/xancrypt/xancrypt/adapters/http"
	"github.com/xancrypt/xancrypt/adapters/idgen"
	"github.com/xancrypt/xancrypt/adapters/memory"
	"github.com/xancrypt/xancrypt/adapters/metrics"
	"github.com/xancrypt/xancrypt/adapters/transform"
	"github.com/xancrypt/xancrypt/app"
	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const adminToken = "admin-secret"

type testEnv struct {
	router   http.Handler
	clock    *clock.Fake
	ledger   *memory.LedgerStore
	history  *memory.HistoryStore
	tokens   *auth.TokenService
	registry *archive.Registry
	metrics  *metrics.Collector
}

func setupTestRouter(t *testing.T, transformers ...ports.Transformer) *testEnv {
	t.Helper()

	if len(transformers) == 0 {
		transformers = []ports.Transformer{transform.NewCSS(), transform.NewJS()}
	}

	dir := t.TempDir()
	env := &testEnv{
		clock:    clock.NewFake(baseTime),
		ledger:   memory.NewLedgerStore(),
		history:  memory.NewHistoryStore(),
		registry: archive.NewRegistry(16, time.Hour),
		metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
	}

	tokens, err := auth.NewTokenService(auth.Config{Secret: "test-secret", Clock: env.clock})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	env.tokens = tokens

	logger := zerolog.Nop()
	pipeline := app.NewPipeline(app.PipelineDeps{
		Transformers: transformers,
		Archiver:     archive.NewZip(env.clock),
		Registry:     env.registry,
		Clock:        env.clock,
		Logger:       logger,
	}, app.PipelineConfig{WorkDir: dir + "/work", OutputDir: dir + "/out"})

	encrypt := app.NewEncryptService(app.EncryptDeps{
		Ledger:    env.ledger,
		History:   env.history,
		Pipeline:  pipeline,
		Observer:  env.metrics,
		Clock:     env.clock,
		RecordIDs: idgen.NewSequential("rec-"),
		JobIDs:    idgen.NewSequential("job-"),
		Logger:    logger,
	}, admission.DefaultConfig())

	usage := app.NewUsageService(env.ledger, env.clock, encrypt.Limits, logger)

	env.router = xhttp.NewRouter(xhttp.RouterConfig{
		Handler: xhttp.NewHandler(xhttp.HandlerDeps{
			Encrypt:  encrypt,
			History:  app.NewHistoryService(env.history, env.clock),
			Registry: env.registry,
			Clock:    env.clock,
			Logger:   logger,
		}, 0),
		Health:         xhttp.NewHealthHandler(usage),
		Admin:          xhttp.NewAdminHandler(usage, env.metrics, logger),
		DeviceIDs:      idgen.NewSequential("device-"),
		Tokens:         tokens,
		AdminTokenHash: []byte(adminToken),
		Hasher:         hasher.Fake{},
		Metrics:        env.metrics,
		Version:        "1.2.3",
	}, logger)

	return env
}

type file struct {
	field, name, body string
}

func multipartRequest(t *testing.T, files ...file) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		io.WriteString(part, f.body)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/encrypt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "203.0.113.7:41000"
	return req
}

func withDevice(req *http.Request, deviceID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: xhttp.DeviceCookie, Value: deviceID})
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestEncrypt_Success(t *testing.T) {
	env := setupTestRouter(t)

	req := multipartRequest(t,
		file{"css[]", "site.css", "body { color: red; }"},
		file{"js[]", "app.js", "function add(a, b) { return a + b; }"},
	)
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp xhttp.EncryptResponse
	decode(t, rec, &resp)
	if resp.DownloadLink != app.DownloadPrefix+"job-1.zip" {
		t.Errorf("downloadLink = %q", resp.DownloadLink)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == xhttp.DeviceCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("deviceId cookie not issued")
	}
	if !cookie.HttpOnly || cookie.MaxAge != int((365 * 24 * time.Hour).Seconds()) {
		t.Errorf("cookie = %+v", cookie)
	}

	// The archive is downloadable and holds both outputs.
	dl := env.do(withDevice(httptest.NewRequest("GET", resp.DownloadLink, nil), cookie.Value))
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	zr, err := zip.NewReader(bytes.NewReader(dl.Body.Bytes()), int64(dl.Body.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("archive entries = %d, want 2", len(zr.File))
	}
}

func TestEncrypt_AcceptsPlainFieldNames(t *testing.T) {
	env := setupTestRouter(t)

	rec := env.do(multipartRequest(t,
		file{"css", "a.css", "a{}"},
		file{"js", "b.js", "var b = 1;"},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
}

func TestEncrypt_NoFiles(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"empty form", multipartRequest(t)},
		{"not multipart", httptest.NewRequest("POST", "/api/encrypt", strings.NewReader("{}"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp xhttp.ErrorResponse
			decode(t, rec, &resp)
			if resp.Error != "no_files" {
				t.Errorf("error = %q, want no_files", resp.Error)
			}
		})
	}
}

func TestEncrypt_LimitExceeded(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	id := identity.Identity{DeviceID: "device-x", IP: "203.0.113.7"}
	first := baseTime.Add(-time.Hour)
	env.ledger.Append(ctx, id, ledger.Record{ID: "r0", Time: first, Files: 4}, baseTime, admission.DefaultWindow)

	rec := env.do(withDevice(multipartRequest(t,
		file{"css[]", "a.css", "a{}"},
		file{"css[]", "b.css", "b{}"},
	), "device-x"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body: %s", rec.Code, rec.Body.String())
	}

	var resp xhttp.LimitExceededResponse
	decode(t, rec, &resp)
	if resp.Error != "limit_exceeded" {
		t.Errorf("error = %q", resp.Error)
	}
	want := first.Add(admission.DefaultWindow).Format(time.RFC3339)
	if resp.NextAllowed == nil || *resp.NextAllowed != want {
		t.Errorf("nextAllowed = %v, want %s", resp.NextAllowed, want)
	}
	if got := rec.Header().Get("Retry-After"); got != "21600" {
		t.Errorf("Retry-After = %q, want 21600", got)
	}
}

func TestEncrypt_TransformErrorReleasesQuota(t *testing.T) {
	env := setupTestRouter(t)

	rec := env.do(withDevice(multipartRequest(t,
		file{"js[]", "broken.js", "function ( {"},
	), "device-y"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp xhttp.ErrorResponse
	decode(t, rec, &resp)
	if resp.Error != "transform_error" || resp.Message != "Encryption failed" {
		t.Errorf("response = %+v", resp)
	}

	rem := env.do(withDevice(httptest.NewRequest("GET", "/api/encrypt/remaining", nil), "device-y"))
	var remaining xhttp.RemainingResponse
	decode(t, rem, &remaining)
	if remaining.Remaining != admission.DefaultMaxFiles {
		t.Errorf("remaining after failure = %d, want %d", remaining.Remaining, admission.DefaultMaxFiles)
	}
}

func TestRemaining(t *testing.T) {
	env := setupTestRouter(t)

	req := func() *http.Request {
		r := httptest.NewRequest("GET", "/api/encrypt/remaining", nil)
		r.RemoteAddr = "198.51.100.1:5000"
		return withDevice(r, "device-r")
	}

	rec := env.do(req())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"remaining":5,"nextReset":null}` {
		t.Errorf("body = %s", got)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("existing deviceId cookie should not be reissued")
	}

	upload := withDevice(multipartRequest(t, file{"css[]", "a.css", "a{}"}, file{"css[]", "b.css", "b{}"}), "device-r")
	if rec := env.do(upload); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}

	first := env.do(req())
	second := env.do(req())
	if first.Body.String() != second.Body.String() {
		t.Errorf("remaining is not idempotent: %s vs %s", first.Body.String(), second.Body.String())
	}

	var resp xhttp.RemainingResponse
	decode(t, first, &resp)
	if resp.Remaining != 3 {
		t.Errorf("remaining = %d, want 3", resp.Remaining)
	}
	if resp.NextReset == nil || *resp.NextReset != baseTime.Add(admission.DefaultWindow).Format(time.RFC3339) {
		t.Errorf("nextReset = %v", resp.NextReset)
	}
}

func TestDownload_UnknownOrTraversal(t *testing.T) {
	env := setupTestRouter(t)

	for _, path := range []string{
		"/api/encrypt/download/missing.zip",
		"/api/encrypt/download/..%2F..%2Fetc%2Fpasswd",
	} {
		rec := env.do(httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestAuth_InvalidTokenIsAnonymous(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest("GET", "/api/encrypt/remaining", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	env := setupTestRouter(t)

	token, _, err := env.tokens.GenerateToken("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	authed := func(r *http.Request) *http.Request {
		r.Header.Set("Authorization", "Bearer "+token)
		return r
	}

	// Anonymous callers are rejected.
	if rec := env.do(httptest.NewRequest("GET", "/api/history", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous GET status = %d, want 401", rec.Code)
	}

	// A signed-in conversion lands in the history.
	rec := env.do(authed(multipartRequest(t, file{"css[]", "a.css", "a{}"})))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body: %s", rec.Code, rec.Body.String())
	}

	env.clock.Advance(time.Minute)
	body := `{"cssCount":0,"jsCount":2,"elapsedSec":0.5,"filename":"x.zip","link":"/api/encrypt/download/x.zip"}`
	rec = env.do(authed(httptest.NewRequest("POST", "/api/history", strings.NewReader(body))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(authed(httptest.NewRequest("POST", "/api/history", strings.NewReader(body))))
	if rec.Code != http.StatusOK {
		t.Errorf("duplicate POST status = %d, want 200", rec.Code)
	}

	rec = env.do(authed(httptest.NewRequest("GET", "/api/history", nil)))
	var events []map[string]interface{}
	decode(t, rec, &events)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0]["filename"] != "x.zip" {
		t.Errorf("newest event = %v", events[0])
	}

	rec = env.do(authed(httptest.NewRequest("DELETE", "/api/history", nil)))
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	rec = env.do(authed(httptest.NewRequest("GET", "/api/history", nil)))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("history after clear = %s", got)
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := setupTestRouter(t)

	for _, path := range []string{"/health", "/health/ready"} {
		rec := env.do(httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
		}
	}

	rec := env.do(httptest.NewRequest("GET", "/version", nil))
	var v xhttp.VersionResponse
	decode(t, rec, &v)
	if v.Version != "1.2.3" || v.Service != "xancrypt" {
		t.Errorf("version = %+v", v)
	}

	rec = env.do(httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "xancrypt_") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
