package authapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/security/token"
)

// Web clients never see the refresh token. It lives in an HttpOnly cookie next to a
// script-readable CSRF cookie whose value must be echoed in a header on refresh.
//
// Security contract:
// - Cookie transport is used only for platform "web" and only when enabled in Config.
// - The CSRF value is fresh entropy per issued pair; it is never derived from the refresh token.
// - A refresh presented through the cookie without a matching header is rejected.

func (h *Handler) shouldUseWebCookieTransport(platform session.Platform) bool {
	return h != nil && h.cfg.WebRefreshCookieEnabled && platform == session.PlatformWeb
}

// setWebSessionCookies writes both cookies and returns the CSRF value for the response body.
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, refreshToken string, refreshExp time.Time) (string, error) {
	csrf, err := token.NewSecret()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, h.webCookie(h.cfg.RefreshCookieName, refreshToken, refreshExp, true))
	http.SetCookie(w, h.webCookie(h.cfg.CSRFCookieName, csrf, refreshExp, false))
	return csrf, nil
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if h == nil || w == nil || !h.cfg.WebRefreshCookieEnabled {
		return
	}
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{
		{h.cfg.RefreshCookieName, true},
		{h.cfg.CSRFCookieName, false},
	} {
		if strings.TrimSpace(c.name) == "" {
			continue
		}
		gone := h.webCookie(c.name, "", time.Unix(0, 0).UTC(), c.httpOnly)
		gone.MaxAge = -1
		http.SetCookie(w, gone)
	}
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	v := h.cookieValue(r, h.cfg.RefreshCookieName)
	return v, v != ""
}

// csrfDoubleSubmitValid compares the CSRF cookie with the CSRF header in constant time.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	cv := h.cookieValue(r, h.cfg.CSRFCookieName)
	if cv == "" {
		return false
	}
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if len(hv) != len(cv) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cv), []byte(hv)) == 1
}

func (h *Handler) cookieValue(r *http.Request, name string) string {
	if h == nil || r == nil || !h.cfg.WebRefreshCookieEnabled {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (h *Handler) webCookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}
