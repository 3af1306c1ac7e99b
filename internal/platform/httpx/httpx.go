// Package httpx holds the JSON request/response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"msp-identity-core/internal/apperr"
)

const maxBodyBytes = 1 << 20

// JSON writes v as a JSON response with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

// Decode reads a JSON body into dst. Unknown fields are rejected. An empty body is
// a validation error.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is required")
		}
		return apperr.Invalid("malformed request body: " + err.Error())
	}
	return nil
}

// ErrorBody is the error response contract.
type ErrorBody struct {
	Error       string     `json:"error"`
	Code        string     `json:"code"`
	Reasons     []string   `json:"reasons,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

// StatusOf maps an error kind to an HTTP status.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidCredential, apperr.KindInvalidCode, apperr.KindTokenExpired,
		apperr.KindTokenInvalid, apperr.KindTokenRevoked, apperr.KindNoActiveSession:
		return http.StatusUnauthorized
	case apperr.KindAccountLocked:
		return http.StatusLocked
	case apperr.KindMFARequired, apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an ErrorBody. Internal failures are logged with their cause and
// surfaced with an opaque message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusOf(kind)
	body := ErrorBody{Code: kind.String()}

	var ve *apperr.ValidationError
	var le *apperr.LockedError
	var ae *apperr.Error
	switch {
	case errors.As(err, &ve):
		body.Error = "validation failed"
		body.Reasons = ve.Reasons
	case errors.As(err, &le):
		body.Error = "account locked"
		until := le.Until.UTC()
		body.LockedUntil = &until
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
	case status >= http.StatusInternalServerError:
		log.Printf("http: %s %s: %v", r.Method, r.URL.Path, err)
		body.Error = "internal error"
		if kind == apperr.KindTransient {
			body.Error = "service temporarily unavailable"
		}
	case errors.As(err, &ae):
		body.Error = ae.Message
	default:
		body.Error = http.StatusText(status)
	}
	JSON(w, status, body)
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid(name + " must be an integer")
	}
	return n, nil
}

// ValidUUID rejects a non-empty id that is not a UUID. Ids are UUID columns, so a
// malformed filter would otherwise fail inside the store.
func ValidUUID(name, v string) error {
	if v == "" {
		return nil
	}
	if _, err := uuid.Parse(v); err != nil {
		return apperr.Invalid(name + " must be a UUID")
	}
	return nil
}

// QueryTime parses an optional RFC 3339 query parameter.
func QueryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Invalid(name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
