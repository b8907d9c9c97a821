package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lexpilot/seatwise/config"
)

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(nil); err == nil {
		t.Fatalf("nil config must fail")
	}
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("empty secret must fail")
	}
	cfg := &config.Config{}
	cfg.General.JWTSecret = "s3cret"
	secret, err := LoadJWTSecret(cfg)
	if err != nil || string(secret) != "s3cret" {
		t.Fatalf("got %q err=%v", secret, err)
	}
}

func authedRequest(t *testing.T, secret []byte, decorate func(*http.Request)) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		sub, ok := SubjectFromContext(c.Request().Context())
		if !ok {
			t.Fatalf("subject missing from request context")
		}
		return c.String(http.StatusOK, c.Get("user_id").(string)+"/"+sub)
	})
	return rec, handler(c)
}

func TestEchoAuthMiddlewareBearer(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	rec, err := authedRequest(t, secret, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "user-1/user-1" {
		t.Fatalf("subject not propagated: %q", rec.Body.String())
	}
}

func TestEchoAuthMiddlewareCookie(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-2", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	rec, err := authedRequest(t, secret, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "auth", Value: token})
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "user-2/user-2" {
		t.Fatalf("subject not propagated: %q", rec.Body.String())
	}
}

func TestEchoAuthMiddlewareRejections(t *testing.T) {
	secret := []byte("test-secret")
	expired, err := SignJWT("user-3", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	wrongKey, err := SignJWT("user-3", []byte("other-secret"), time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	cases := map[string]func(*http.Request){
		"missing token": nil,
		"expired token": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
		"wrong key":     func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+wrongKey) },
		"garbage":       func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") },
	}
	for name, decorate := range cases {
		_, err := authedRequest(t, secret, decorate)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", name, err)
		}
	}
}
