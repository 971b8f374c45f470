package authapi

import (
	"context"
	"net/http"
	"strconv"

	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/otp"
)

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	acc, err := h.auth.Me(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "current_password and new_password are required")
		return
	}
	res, err := h.auth.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	platform := ""
	if _, ok := h.refreshTokenFromCookie(r); ok {
		platform = "web"
	}
	h.writeAuth(w, http.StatusOK, platform, res)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	list, err := h.auth.ListSessions(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toSessionResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid session id")
		return
	}
	if err := h.auth.RevokeSession(r.Context(), p, id, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTrustDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req trustDeviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.auth.TrustDevice(r.Context(), p, req.DeviceID, req.Trusted); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req deleteAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.auth.DeleteAccount(r.Context(), p, req.Password, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- mfa / otp ----

func (h *Handler) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	enr, err := h.auth.EnrollTOTP(r.Context(), p, h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totpEnrollResponse{Secret: enr.Secret, URL: enr.URL})
}

func (h *Handler) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.auth.ConfirmTOTP)
}

func (h *Handler) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.auth.DisableTOTP)
}

func (h *Handler) withCode(w http.ResponseWriter, r *http.Request, fn func(context.Context, authn.Principal, string, audit.Meta) error) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := fn(r.Context(), p, req.Code, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req otpSendRequest
	if !h.decode(w, r, &req) {
		return
	}
	ttl, err := h.auth.SendOTP(r.Context(), p, otp.Purpose(req.Purpose), h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, otpSendResponse{ExpiresIn: int64(ttl.Seconds())})
}

func (h *Handler) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req otpVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.auth.VerifyOTP(r.Context(), p, otp.Purpose(req.Purpose), req.Code, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
