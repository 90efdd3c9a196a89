package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"lv-papertrade/internal/apperr"

	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ReadJSON decodes a single JSON object from the request body and rejects
// unknown fields and trailing data.
func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid json body")
	}
	if dec.More() {
		return errors.New("invalid json body: trailing data")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteRaw writes an already encoded JSON body.
func WriteRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// StatusFor maps an error to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidRequest, apperr.KindInsufficientFunds, apperr.KindInsufficientAsset:
		return http.StatusBadRequest
	case apperr.KindOrderNotFound:
		return http.StatusNotFound
	case apperr.KindPriceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError reports err with its mapped status. Errors without a known
// kind are rendered as a generic message.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.KindUnknown {
		msg = "internal error"
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && kind != apperr.KindInvalidRequest {
		msg = appErr.Error()
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: string(kind)})
}
