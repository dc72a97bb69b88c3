// Package respond writes the service's JSON envelopes. Success responses
// carry the resource directly; errors are always {"error": "..."} with the
// HTTP status conveying the class. Upstream details never cross this
// boundary.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vizboardhq/vizboard/internal/access"
	"github.com/vizboardhq/vizboard/internal/auth"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/member"
	"gorm.io/gorm"
)

// JSON writes v with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes the error envelope.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// RateLimited writes 429 with a Retry-After header.
func RateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Error(w, http.StatusTooManyRequests, "too many requests")
}

// DomainError maps known domain errors onto status codes and writes the
// envelope; unknown errors become a generic 500 and the caller is expected
// to have logged the detail.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, ledger.ErrVersionNotFound),
		errors.Is(err, member.ErrMembershipMissing),
		errors.Is(err, access.ErrShareNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, member.ErrSeatsExhausted):
		Error(w, http.StatusConflict, "organization has no seats remaining")
	case errors.Is(err, member.ErrAlreadyInvited):
		Error(w, http.StatusConflict, "email already invited")
	case errors.Is(err, member.ErrOwnerImmutable),
		errors.Is(err, member.ErrForbiddenChange):
		Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, access.ErrShareValueInvalid):
		Error(w, http.StatusBadRequest, "share value is not a valid email or domain")
	case errors.Is(err, auth.ErrCodeInvalid), errors.Is(err, auth.ErrCodeExpired):
		Error(w, http.StatusUnauthorized, "verification code is invalid or expired")
	case errors.Is(err, auth.ErrSessionInvalid):
		Error(w, http.StatusUnauthorized, "session is invalid or expired")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
