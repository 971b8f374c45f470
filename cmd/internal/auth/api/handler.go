package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/biometric"
	"trustcore/cmd/internal/clientip"
)

// DeviceHeader carries the client's stable device id.
const DeviceHeader = "X-Device-Id"

// Handler is the HTTP adapter over the account workflows.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	auth   *authn.Service
	tokens *tokens.Manager
	bio    *biometric.Verifier
	ip     clientip.Resolver
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithBiometric enables the biometric routes. Without it they answer 503.
func WithBiometric(v *biometric.Verifier) HandlerOption {
	return func(h *Handler) { h.bio = v }
}

// NewHandler builds a Handler.
func NewHandler(log *slog.Logger, cfg Config, auth *authn.Service, tm *tokens.Manager, opts ...HandlerOption) (*Handler, error) {
	if auth == nil || tm == nil {
		return nil, errors.New("authapi: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ip, err := clientip.New(cfg.TrustProxy, cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	h := &Handler{log: log, cfg: cfg, auth: auth, tokens: tm, ip: ip}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// ClientIP exposes the resolver so other middleware keys on the same address.
func (h *Handler) ClientIP() clientip.Resolver { return h.ip }

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	authed := func(fn http.HandlerFunc) http.Handler { return h.Authenticate(fn) }

	mux.HandleFunc("POST /v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", h.handleLogin)
	mux.HandleFunc("POST /v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /v1/auth/verify-email", h.handleVerifyEmail)
	mux.HandleFunc("POST /v1/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /v1/auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("GET /v1/auth/keys", h.handleKeys)
	mux.Handle("POST /v1/auth/logout", authed(h.handleLogout))
	mux.Handle("POST /v1/auth/logout-all", authed(h.handleLogoutAll))
	mux.Handle("POST /v1/auth/resend-verification", authed(h.handleResendVerification))

	mux.Handle("GET /v1/users/me", authed(h.handleMe))
	mux.Handle("DELETE /v1/users/me", authed(h.handleDeleteAccount))
	mux.Handle("POST /v1/users/me/password", authed(h.handleChangePassword))
	mux.Handle("GET /v1/users/me/sessions", authed(h.handleListSessions))
	mux.Handle("DELETE /v1/users/me/sessions/{id}", authed(h.handleRevokeSession))
	mux.Handle("POST /v1/users/me/devices/trust", authed(h.handleTrustDevice))

	mux.Handle("POST /v1/mfa/totp/enroll", authed(h.handleTOTPEnroll))
	mux.Handle("POST /v1/mfa/totp/confirm", authed(h.handleTOTPConfirm))
	mux.Handle("POST /v1/mfa/totp/disable", authed(h.handleTOTPDisable))
	mux.Handle("POST /v1/otp/send", authed(h.handleOTPSend))
	mux.Handle("POST /v1/otp/verify", authed(h.handleOTPVerify))

	mux.Handle("POST /v1/biometric/enroll", authed(h.handleBiometricEnroll))
	mux.Handle("POST /v1/biometric/verify", authed(h.handleBiometricVerify))
	mux.Handle("DELETE /v1/biometric", authed(h.handleBiometricRemove))
	mux.Handle("GET /v1/biometric/status", authed(h.handleBiometricStatus))
}

// meta collects audit context from the request.
func (h *Handler) meta(r *http.Request) audit.Meta {
	return audit.Meta{
		IP:        h.ip.IP(r),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		DeviceID:  strings.TrimSpace(r.Header.Get(DeviceHeader)),
	}
}

// decode reads the body into dst or answers 400 (413 when over MaxBodyBytes).
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	}
	return false
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.auth.Register(r.Context(), authn.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Phone:       req.Phone,
		DisplayName: req.DisplayName,
		Device:      h.deviceInput(r, req.deviceRequest),
	}, h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAuth(w, http.StatusCreated, req.Platform, res)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), authn.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFACode,
		Device:   h.deviceInput(r, req.deviceRequest),
	}, h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAuth(w, http.StatusOK, req.Platform, res)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	presented := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if presented == "" {
		if tok, ok := h.refreshTokenFromCookie(r); ok {
			presented, fromCookie = tok, true
		}
	}
	if presented == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	res, err := h.auth.Refresh(r.Context(), presented, h.meta(r))
	if err != nil {
		if fromCookie {
			h.clearWebSessionCookies(w)
		}
		h.writeServiceError(w, r, err)
		return
	}
	platform := ""
	if fromCookie {
		platform = string(session.PlatformWeb)
	}
	h.writeAuth(w, http.StatusOK, platform, res)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), p, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if _, err := h.auth.LogoutAll(r.Context(), p, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	acc, err := h.auth.VerifyEmail(r.Context(), strings.TrimSpace(req.Token), h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	if err := h.auth.ResendVerification(r.Context(), p); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "sent"})
}

// handleForgotPassword always answers 202 so callers cannot probe for accounts.
func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	_ = h.auth.ForgotPassword(r.Context(), req.Email, h.meta(r))
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "if the account exists, a reset link was sent"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token and new_password are required")
		return
	}
	if err := h.auth.ResetPassword(r.Context(), strings.TrimSpace(req.Token), req.NewPassword, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, keysResponse{Algorithm: "EdDSA", PublicKey: h.tokens.PublicKeyBase64()})
}

// deviceInput fills the device id from X-Device-Id when the body has none.
func (h *Handler) deviceInput(r *http.Request, d deviceRequest) authn.DeviceInput {
	in := d.input()
	if strings.TrimSpace(in.ID) == "" {
		in.ID = strings.TrimSpace(r.Header.Get(DeviceHeader))
	}
	return in
}

// writeAuth answers with a token pair; web clients get the refresh token as a cookie.
func (h *Handler) writeAuth(w http.ResponseWriter, status int, platform string, res authn.AuthResult) {
	body := toAuthResponse(res)
	if h.shouldUseWebCookieTransport(session.ParsePlatform(platform)) {
		csrf, err := h.setWebSessionCookies(w, res.RefreshToken, res.RefreshExpiresAt)
		if err != nil {
			h.log.Error("authapi.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		body.RefreshToken = ""
		body.CSRFToken = csrf
	}
	writeJSON(w, status, body)
}
