package bootstrap_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xancrypt/xancrypt/adapters/clock"
	"github.com/xancrypt/xancrypt/bootstrap"
	"github.com/xancrypt/xancrypt/config"
)

func testConfig(t *testing.T, driver, dsn string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Limits:  config.LimitsConfig{MaxFiles: 5, Window: 7 * time.Hour},
		Storage: config.StorageConfig{Driver: driver, DSN: dsn},
		Conversion: config.ConversionConfig{
			WorkDir:      filepath.Join(dir, "work"),
			OutputDir:    filepath.Join(dir, "downloads"),
			Retention:    time.Hour,
			RegistrySize: 16,
		},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenExpiry: time.Hour, Issuer: "xancrypt"},
		Logging: config.LoggingConfig{Level: "debug", Format: "json"},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func newApp(t *testing.T, cfg *config.Config) *bootstrap.App {
	t.Helper()
	a, err := bootstrap.New(bootstrap.Options{Config: cfg, Version: "test", LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a
}

func encryptRequest(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("css", "site.css")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("body {  color : red ;  }\n"))
	part, err = w.CreateFormFile("js", "app.js")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("function add(first, second) { return first + second; }\n"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/encrypt", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: "deviceId", Value: "device-1"})
	return req
}

func TestBootstrap_MemoryEncryptFlow(t *testing.T) {
	a := newApp(t, testConfig(t, config.DriverMemory, ""))
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, encryptRequest(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("encrypt status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		DownloadLink string  `json:"downloadLink"`
		ElapsedSec   float64 `json:"elapsedSec"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.DownloadLink, "/api/encrypt/download/") {
		t.Fatalf("downloadLink = %q", resp.DownloadLink)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, resp.DownloadLink, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q, want application/zip", ct)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/encrypt/remaining", nil)
	req.AddCookie(&http.Cookie{Name: "deviceId", Value: "device-1"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"remaining":3`) {
		t.Errorf("remaining body = %s", rec.Body.String())
	}

	if got := testutil.ToFloat64(a.Metrics.LastConversionCSSFiles); got != 1 {
		t.Errorf("last conversion css = %v, want 1", got)
	}
}

func TestBootstrap_SQLiteMigrates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "xancrypt.db")
	a := newApp(t, testConfig(t, config.DriverSQLite, dbPath))

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readiness = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestBootstrap_UnknownDriver(t *testing.T) {
	cfg := testConfig(t, "cassandra", "")
	if _, err := bootstrap.New(bootstrap.Options{Config: cfg, LogOutput: io.Discard}); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestBootstrap_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory, "")
	cfg.Metrics.Enabled = false
	a := newApp(t, cfg)

	if a.Metrics != nil {
		t.Error("Metrics should be nil when disabled")
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404", rec.Code)
	}
}

func TestBootstrap_ConfigReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xancrypt.yaml")
	write := func(maxFiles string) {
		content := `
limits:
  max_files: ` + maxFiles + `
  window: 7h
storage:
  driver: memory
conversion:
  work_dir: ` + filepath.Join(dir, "work") + `
  output_dir: ` + filepath.Join(dir, "downloads") + `
metrics:
  enabled: true
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("5")

	a, err := bootstrap.New(bootstrap.Options{ConfigPath: path, LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	defer a.Shutdown()

	if got := a.Encrypt.Limits().MaxFiles; got != 5 {
		t.Fatalf("initial max files = %d, want 5", got)
	}

	write("2")
	if err := a.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := a.Encrypt.Limits().MaxFiles; got != 2 {
		t.Errorf("reloaded max files = %d, want 2", got)
	}
	if got := testutil.ToFloat64(a.Metrics.ConfigReloads); got != 1 {
		t.Errorf("config reloads = %v, want 1", got)
	}

	write("0")
	if err := a.Reload(); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if got := a.Encrypt.Limits().MaxFiles; got != 2 {
		t.Errorf("max files after failed reload = %d, want 2", got)
	}
	if got := testutil.ToFloat64(a.Metrics.ConfigReloadErrors); got != 1 {
		t.Errorf("config reload errors = %v, want 1", got)
	}
}

func TestBootstrap_ShutdownIdempotent(t *testing.T) {
	a, err := bootstrap.New(bootstrap.Options{Config: testConfig(t, config.DriverMemory, ""), LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestArchiveJanitor_Sweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	old := filepath.Join(dir, "old.zip")
	fresh := filepath.Join(dir, "fresh.zip")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := now.Add(-2 * time.Hour)
	for _, p := range []string{old, other} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Chtimes(fresh, now, now); err != nil {
		t.Fatal(err)
	}

	j := bootstrap.NewArchiveJanitor(dir, time.Hour, 0, clock.NewFake(now), zerologDiscard())
	defer j.Close()

	if n := j.Sweep(); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old archive should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh archive should remain")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("non-archive files should remain")
	}
}

func TestArchiveJanitor_StartClose(t *testing.T) {
	j := bootstrap.NewArchiveJanitor(t.TempDir(), time.Hour, time.Second, clock.Real{}, zerologDiscard())
	j.Start()
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestBootstrap_ShutdownRemovesArchives(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory, "")
	a, err := bootstrap.New(bootstrap.Options{Config: cfg, LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, encryptRequest(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("encrypt status = %d, body = %s", rec.Code, rec.Body.String())
	}
	archives, _ := filepath.Glob(filepath.Join(cfg.Conversion.OutputDir, "*.zip"))
	if len(archives) != 1 {
		t.Fatalf("archives = %v, want one", archives)
	}

	if err := a.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := os.Stat(archives[0]); !os.IsNotExist(err) {
		t.Error("archive should be removed on shutdown")
	}
}
