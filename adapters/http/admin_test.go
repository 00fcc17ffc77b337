package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	xhttp "github.com/xancrypt/xancrypt/adapters/http"
	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
)

func adminRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("X-Admin-Token", adminToken)
	return req
}

func seedUser(t *testing.T, env *testEnv, userID string, files int) {
	t.Helper()
	id := identity.Identity{UserID: userID}
	rec := ledger.Record{ID: "seed-" + userID, Time: baseTime.Add(-time.Hour), Files: files}
	if _, err := env.ledger.Append(context.Background(), id, rec, baseTime, admission.DefaultWindow); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "guess"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/usage?userId=u", nil)
			if tt.token != "" {
				req.Header.Set("X-Admin-Token", tt.token)
			}
			if rec := env.do(req); rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAdmin_GetUsage(t *testing.T) {
	env := setupTestRouter(t)
	seedUser(t, env, "user-1", 3)

	rec := env.do(adminRequest("GET", "/admin/usage?userId=user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp xhttp.UsageResponse
	decode(t, rec, &resp)
	if resp.UserID != "user-1" || resp.Used != 3 || resp.Remaining != 2 {
		t.Errorf("usage = %+v", resp)
	}
	if len(resp.Records) != 1 {
		t.Errorf("records = %d, want 1", len(resp.Records))
	}

	if rec := env.do(adminRequest("GET", "/admin/usage?userId=nobody")); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
	if rec := env.do(adminRequest("GET", "/admin/usage")); rec.Code != http.StatusBadRequest {
		t.Errorf("no identity status = %d, want 400", rec.Code)
	}
}

func TestAdmin_ResetUsage(t *testing.T) {
	env := setupTestRouter(t)
	seedUser(t, env, "user-2", 5)

	rec := env.do(adminRequest("DELETE", "/admin/usage?userId=user-2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp xhttp.ResetResponse
	decode(t, rec, &resp)
	if resp.Removed != 1 {
		t.Errorf("removed = %d, want 1", resp.Removed)
	}

	rec = env.do(adminRequest("GET", "/admin/usage?userId=user-2"))
	var usage xhttp.UsageResponse
	decode(t, rec, &usage)
	if usage.Used != 0 || usage.Remaining != admission.DefaultMaxFiles {
		t.Errorf("after reset = %+v", usage)
	}
}

func TestAdmin_ListUsage(t *testing.T) {
	env := setupTestRouter(t)
	seedUser(t, env, "user-a", 1)
	env.clock.Advance(time.Minute)
	seedUser(t, env, "user-b", 2)

	rec := env.do(adminRequest("GET", "/admin/usage/entries?limit=1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp xhttp.UsageListResponse
	decode(t, rec, &resp)
	if len(resp.Entries) != 1 || resp.Limit != 1 {
		t.Fatalf("page = %+v", resp)
	}

	rec = env.do(adminRequest("GET", "/admin/usage/entries"))
	decode(t, rec, &resp)
	if len(resp.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(resp.Entries))
	}
}

func TestAdmin_ResetMetrics(t *testing.T) {
	env := setupTestRouter(t)
	env.metrics.ConversionFailed("archive_error", time.Second)

	if got := testutil.ToFloat64(env.metrics.EncryptionErrors.WithLabelValues("archive_error")); got != 1 {
		t.Fatalf("errors before reset = %v, want 1", got)
	}

	rec := env.do(adminRequest("POST", "/admin/reset-metrics"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := testutil.CollectAndCount(env.metrics.EncryptionErrors); got != 0 {
		t.Errorf("error series after reset = %d, want 0", got)
	}
}
