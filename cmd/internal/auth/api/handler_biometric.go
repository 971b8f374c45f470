package authapi

import (
	"net/http"
	"strings"

	"trustcore/cmd/internal/biometric"
)

// biometricCall resolves the caller and modality, or answers.
func (h *Handler) biometricCall(w http.ResponseWriter, r *http.Request, req *biometricRequest) (int64, biometric.Modality, bool) {
	p, ok := requireAccount(w, r)
	if !ok {
		return 0, "", false
	}
	if h.bio == nil || !h.bio.Config().Enabled {
		h.writeServiceError(w, r, biometric.ErrDisabled)
		return 0, "", false
	}
	if req != nil && !h.decode(w, r, req) {
		return 0, "", false
	}
	m := biometric.ModalityFace
	if req != nil && strings.TrimSpace(req.Modality) != "" {
		m = biometric.Modality(strings.ToLower(strings.TrimSpace(req.Modality)))
	}
	if q := r.URL.Query().Get("modality"); q != "" {
		m = biometric.Modality(strings.ToLower(q))
	}
	return p.AccountID, m, true
}

func (h *Handler) handleBiometricEnroll(w http.ResponseWriter, r *http.Request) {
	var req biometricRequest
	id, m, ok := h.biometricCall(w, r, &req)
	if !ok {
		return
	}
	res, err := h.bio.Enroll(r.Context(), id, m, req.Sample, h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBiometricResponse(res))
}

// handleBiometricVerify answers 200 for both matches and mismatches; Verified tells them apart.
func (h *Handler) handleBiometricVerify(w http.ResponseWriter, r *http.Request) {
	var req biometricRequest
	id, m, ok := h.biometricCall(w, r, &req)
	if !ok {
		return
	}
	res, err := h.bio.Verify(r.Context(), id, m, req.Sample, h.meta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBiometricResponse(res))
}

func (h *Handler) handleBiometricRemove(w http.ResponseWriter, r *http.Request) {
	id, m, ok := h.biometricCall(w, r, nil)
	if !ok {
		return
	}
	if err := h.bio.Remove(r.Context(), id, m, h.meta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBiometricStatus(w http.ResponseWriter, r *http.Request) {
	id, m, ok := h.biometricCall(w, r, nil)
	if !ok {
		return
	}
	enrolled, err := h.bio.IsEnrolled(r.Context(), id, m)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modality": string(m), "enrolled": enrolled})
}
