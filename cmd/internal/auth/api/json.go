package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	errEmptyBody     = errors.New("empty body")
	errTrailingData  = errors.New("extra data after JSON object")
	errBodyTooLarge  = errors.New("body too large")
	errMalformedJSON = errors.New("malformed JSON")
)

// errorResponse is the only error shape clients see.
type errorResponse struct {
	Error      apiError `json:"error"`
	RetryAfter int64    `json:"retry_after,omitempty"`
	Remaining  *int     `json:"attempts_remaining,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON never lets a token response be cached by an intermediary.
func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// decodeJSON accepts exactly one JSON object of at most maxBytes with no unknown fields.
// Oversized bodies map to errBodyTooLarge so callers can answer 413 instead of 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return classifyDecodeErr(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if tooLarge(err) {
			return errBodyTooLarge
		}
		return errTrailingData
	}
	return nil
}

func classifyDecodeErr(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case tooLarge(err):
		return errBodyTooLarge
	default:
		return errors.Join(errMalformedJSON, err)
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
