package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/seat-booking/internal/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps the domain error taxonomy onto HTTP. Order matters: a
// serialization failure is also a conflict, a missing seat is also not found.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrSeatNotFound):
		return http.StatusNotFound, "seat_not_found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrSeatUnavailable):
		return http.StatusConflict, "seat_unavailable"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrHoldExpired):
		return http.StatusGone, "hold_expired"
	case errors.Is(err, domain.ErrNotHeldByCaller):
		return http.StatusForbidden, "not_held_by_caller"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).WithField("code", code).Error("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// invalidRequest turns a decode or validator failure into ErrInvalidInput.
func invalidRequest(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.Invalid("field %s failed %s validation", fe.Field(), fe.Tag())
	}
	return errors.Mark(errors.Wrap(err, "malformed request body"), domain.ErrInvalidInput)
}
