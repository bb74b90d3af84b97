package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/appointment"
	"github.com/hackgods/telehealth-slot-reservation/internal/auth"
	"github.com/hackgods/telehealth-slot-reservation/internal/booking"
	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/verification"
)

var (
	errInvalidWeekday = errors.New("availability keys must be weekday names")
	errForbidden      = errors.New("not allowed to act for this doctor")
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, message string, result any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Result: result})
}

func writeError(w http.ResponseWriter, status int, key, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message, ErrorKey: key})
}

// decodeJSON reads and validates a request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not parse JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return err.Error()
}

// writeDomainError maps service errors to status codes and stable error keys.
func writeDomainError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrLockExpired):
		writeError(w, http.StatusGone, "lock_expired", err.Error())
	case errors.Is(err, booking.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, booking.ErrVerificationFailed):
		writeError(w, http.StatusUnprocessableEntity, "verification_failed", booking.ErrVerificationFailed.Error())
	case errors.Is(err, booking.ErrNotLocked):
		writeError(w, http.StatusConflict, "not_locked", err.Error())
	case errors.Is(err, booking.ErrModeNotOffered):
		writeError(w, http.StatusBadRequest, "mode_not_offered", err.Error())
	case errors.Is(err, catalog.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, verification.ErrCooldown):
		writeError(w, http.StatusTooManyRequests, "otp_cooldown", err.Error())
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, catalog.ErrInvalidDate),
		errors.Is(err, catalog.ErrInvalidTimeOfDay),
		errors.Is(err, catalog.ErrInvalidMode),
		errors.Is(err, catalog.ErrInvalidWindow),
		errors.Is(err, appointment.ErrInvalidBucket),
		errors.Is(err, appointment.ErrInvalidRange),
		errors.Is(err, errInvalidWeekday),
		errors.Is(err, booking.ErrOwnerRequired):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

// authFailure renders auth middleware rejections in the envelope.
func authFailure(w http.ResponseWriter, _ *http.Request, status int, err error) {
	key := "unauthorized"
	if status == http.StatusForbidden {
		key = "forbidden"
	}
	writeError(w, status, key, err.Error())
}

func principal(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
