package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	xhttp "github.com/xancrypt/xancrypt/adapters/http"
	"github.com/xancrypt/xancrypt/adapters/idgen"
	"github.com/xancrypt/xancrypt/domain/identity"
)

// staticTokens accepts exactly one token.
type staticTokens struct{}

func (staticTokens) UserID(token string) (string, error) {
	if token == "good" {
		return "user-7", nil
	}
	return "", http.ErrNoCookie
}

func captureIdentity(t *testing.T, req *http.Request) (identity.Identity, *httptest.ResponseRecorder) {
	t.Helper()

	var got identity.Identity
	mw := xhttp.NewIdentityMiddleware(idgen.NewSequential("dev-"), staticTokens{}, true, zerolog.Nop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = xhttp.IdentityFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return got, rec
}

func TestIdentityMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *http.Request)
		want       identity.Identity
		wantCookie bool
	}{
		{
			name:       "new device",
			setup:      func(r *http.Request) {},
			want:       identity.Identity{DeviceID: "dev-1", IP: "192.0.2.10"},
			wantCookie: true,
		},
		{
			name: "existing cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: xhttp.DeviceCookie, Value: "known"})
			},
			want: identity.Identity{DeviceID: "known", IP: "192.0.2.10"},
		},
		{
			name: "forwarded for",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: xhttp.DeviceCookie, Value: "known"})
				r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
			},
			want: identity.Identity{DeviceID: "known", IP: "198.51.100.4"},
		},
		{
			name: "valid token",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: xhttp.DeviceCookie, Value: "known"})
				r.Header.Set("Authorization", "Bearer good")
			},
			want: identity.Identity{DeviceID: "known", IP: "192.0.2.10", UserID: "user-7"},
		},
		{
			name: "invalid token stays anonymous",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: xhttp.DeviceCookie, Value: "known"})
				r.Header.Set("Authorization", "Bearer bad")
			},
			want: identity.Identity{DeviceID: "known", IP: "192.0.2.10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = "192.0.2.10:1234"
			tt.setup(req)

			got, rec := captureIdentity(t, req)
			if got != tt.want {
				t.Errorf("identity = %+v, want %+v", got, tt.want)
			}

			cookies := rec.Result().Cookies()
			if tt.wantCookie {
				if len(cookies) != 1 {
					t.Fatalf("cookies = %d, want 1", len(cookies))
				}
				c := cookies[0]
				if c.Value != tt.want.DeviceID || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
					t.Errorf("cookie = %+v", c)
				}
			} else if len(cookies) != 0 {
				t.Errorf("unexpected cookies: %v", cookies)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	h := xhttp.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(xhttp.WithIdentity(req.Context(), identity.Identity{UserID: "u"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("authenticated status = %d, want 418", rec.Code)
	}
}
