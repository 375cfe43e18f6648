// Package signetapi implements the HTTP surface: routing, RFC 7807
// error rendering, rate limiting, and admin authentication in front of
// the exchange pipeline.
package signetapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// ProblemDetail implements RFC 7807 for every error response this API
// returns.
type ProblemDetail struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Instance string      `json:"instance,omitempty"`
	Code     string      `json:"code,omitempty"`
	Details  interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, title, detail, code string, details interface{}) {
	problem := ProblemDetail{
		Type:     fmt.Sprintf("https://signet.schemas.local/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     code,
		Details:  details,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// writeSignetError maps a *signet.Error to its RFC 7807 status code and
// title, so every pipeline failure mode gets a single, consistent
// rendering.
func writeSignetError(w http.ResponseWriter, r *http.Request, err *signet.Error) {
	status, title := statusForKind(err.Kind)
	writeError(w, r, status, title, err.Message, string(err.Kind), err.Details)
}

func statusForKind(k signet.Kind) (int, string) {
	switch k {
	case signet.KindAuthError:
		return http.StatusUnauthorized, "Unauthorized"
	case signet.KindBadRequest:
		return http.StatusBadRequest, "Bad Request"
	case signet.KindUnsupportedMapping:
		return http.StatusUnprocessableEntity, "Unsupported Mapping"
	case signet.KindValidationError:
		return http.StatusUnprocessableEntity, "Validation Error"
	case signet.KindPolicyDenied:
		return http.StatusOK, "Policy Denied"
	case signet.KindChainConflict:
		return http.StatusConflict, "Chain Conflict"
	case signet.KindQuotaExceeded:
		return http.StatusTooManyRequests, "Quota Exceeded"
	case signet.KindForwardError:
		return http.StatusOK, "Forward Error"
	case signet.KindStorageError:
		return http.StatusInternalServerError, "Internal Server Error"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("signetapi: internal server error", "error", err, "path", r.URL.Path)
	writeError(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.", "", nil)
}

func writeNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeError(w, r, http.StatusNotFound, "Not Found", detail, "", nil)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	writeError(w, r, http.StatusUnauthorized, "Unauthorized", detail, "", nil)
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	writeError(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded.", "", nil)
}
