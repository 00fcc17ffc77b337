package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xancrypt/xancrypt/adapters/metrics"
	"github.com/xancrypt/xancrypt/domain/identity"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m.RequestsTotal == nil || m.EncryptionDuration == nil || m.AdmissionDecisions == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestConversionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	at := time.Unix(1700000000, 0)
	m.ConversionStarted(2, 3, at)
	m.ConversionSucceeded(1500 * time.Millisecond)

	if got := testutil.ToFloat64(m.LastConversionTimestamp); got != 1700000000 {
		t.Errorf("last conversion timestamp = %v", got)
	}
	if got := testutil.ToFloat64(m.LastConversionCSSFiles); got != 2 {
		t.Errorf("css files = %v", got)
	}
	if got := testutil.ToFloat64(m.LastConversionJSFiles); got != 3 {
		t.Errorf("js files = %v", got)
	}
	if got := testutil.ToFloat64(m.LastConversionDuration); got != 1.5 {
		t.Errorf("last duration = %v", got)
	}
	if n := testutil.CollectAndCount(m.EncryptionDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestConversionFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConversionFailed("transform_error", time.Second)
	m.ConversionFailed("transform_error", time.Second)
	m.ConversionFailed("archive_error", time.Second)

	if got := testutil.ToFloat64(m.EncryptionErrors.WithLabelValues("transform_error")); got != 2 {
		t.Errorf("transform errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EncryptionErrors.WithLabelValues("archive_error")); got != 1 {
		t.Errorf("archive errors = %v, want 1", got)
	}
}

func TestAdmissionDecided(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.AdmissionDecided(identity.ScopeDevice, true)
	m.AdmissionDecided(identity.ScopeDevice, false)
	m.AdmissionDecided(identity.ScopeUser, false)

	if got := testutil.ToFloat64(m.AdmissionDecisions.WithLabelValues("denied", "device")); got != 1 {
		t.Errorf("denied device = %v", got)
	}
	if got := testutil.ToFloat64(m.AdmissionDecisions.WithLabelValues("denied", "user")); got != 1 {
		t.Errorf("denied user = %v", got)
	}
}

func TestResetConversion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConversionSucceeded(2 * time.Second)
	m.ConversionFailed("staging_error", time.Second)
	m.ResetConversion()

	if n := testutil.CollectAndCount(m.EncryptionDuration); n != 0 {
		t.Errorf("duration series after reset = %d", n)
	}
	if n := testutil.CollectAndCount(m.EncryptionErrors); n != 0 {
		t.Errorf("error series after reset = %d", n)
	}
	if got := testutil.ToFloat64(m.LastConversionDuration); got != 0 {
		t.Errorf("last duration after reset = %v", got)
	}
}

func TestConfigReloaded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConfigReloaded(nil, time.Unix(42, 0))
	m.ConfigReloaded(errors.New("bad yaml"), time.Unix(50, 0))

	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("reloads = %v", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("reload errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ConfigLastReload); got != 42 {
		t.Errorf("last reload = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.ConversionStarted(1, 0, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"xancrypt_last_conversion_css_files", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("exposition missing %s", name)
		}
	}
}
