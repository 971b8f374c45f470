package authapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trustcore/cmd/internal/auth/session"
)

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport(session.PlatformWeb) {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport(session.PlatformIOS) {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "trustcore_refresh_token",
		CSRFCookieName:          "trustcore_csrf_token",
		CookiePath:              "/",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteLaxMode,
	}}

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.Name == "trustcore_refresh_token" && !c.HttpOnly {
			t.Fatalf("refresh cookie must be HttpOnly")
		}
		if c.Name == "trustcore_csrf_token" && c.HttpOnly {
			t.Fatalf("csrf cookie must be readable by scripts")
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		CSRFCookieName:          "trustcore_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
	}}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "trustcore_csrf_token", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "trustcore_refresh_token",
	}}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "trustcore_refresh_token", Value: "tok-123"})

	token, ok := h.refreshTokenFromCookie(req)
	if !ok {
		t.Fatalf("expected cookie token to be found")
	}
	if token != "tok-123" {
		t.Fatalf("unexpected cookie token: %q", token)
	}
}

func TestClearWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "trustcore_refresh_token",
		CSRFCookieName:          "trustcore_csrf_token",
		CookiePath:              "/",
	}}

	rr := httptest.NewRecorder()
	h.clearWebSessionCookies(rr)
	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 expired cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %q not expired: %+v", c.Name, c)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{name: "ok", body: `{"email":"a@example.com"}`},
		{name: "trailing", body: `{"email":"a@example.com"}{}`, want: errTrailingData},
		{name: "too large", body: `{"email":"` + strings.Repeat("a", 128) + `"}`, want: errBodyTooLarge},
		{name: "unknown field", body: `{"nope":1}`, want: errMalformedJSON},
		{name: "empty", body: ``, want: errEmptyBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst struct {
				Email string `json:"email"`
			}
			err := decodeJSON(httptest.NewRecorder(), req, 64, &dst)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("decodeJSON: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("decodeJSON err=%v want %v", err, tc.want)
			}
		})
	}
}
