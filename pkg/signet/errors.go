package signet

import "fmt"

// Kind tags a pipeline error with the surface-level taxonomy from the
// exchange pipeline's error handling design. Each Kind maps to exactly
// one HTTP status at the API boundary and to a VEx-counted/not-counted
// outcome.
type Kind string

const (
	KindAuthError          Kind = "AuthError"
	KindBadRequest         Kind = "BadRequest"
	KindUnsupportedMapping Kind = "UnsupportedMapping"
	KindValidationError    Kind = "ValidationError"
	KindPolicyDenied       Kind = "PolicyDenied"
	KindChainConflict      Kind = "ChainConflict"
	KindQuotaExceeded      Kind = "QuotaExceeded"
	KindForwardError       Kind = "ForwardError"
	KindStorageError       Kind = "StorageError"
)

// Error is the typed pipeline error. Kind selects the HTTP status and
// whether the exchange is VEx-countable; Code is a short machine reason
// (e.g. "host_not_allowlisted", "private_ip"); Details carries optional
// structured context (e.g. semantic_violations).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func NewAuthError(msg string) *Error { return newErr(KindAuthError, "unauthorized", msg, nil) }

func NewBadRequest(msg string) *Error { return newErr(KindBadRequest, "bad_request", msg, nil) }

func NewUnsupportedMapping(source, target string) *Error {
	return newErr(KindUnsupportedMapping, "unsupported_mapping",
		fmt.Sprintf("no mapping registered for %s -> %s", source, target), nil)
}

func NewValidationError(code, msg string, details interface{}) *Error {
	return &Error{Kind: KindValidationError, Code: code, Message: msg, Details: details}
}

func NewPolicyDenied(reason string) *Error {
	return newErr(KindPolicyDenied, reason, "forward target denied by host egress policy", nil)
}

func NewChainConflict(traceID string) *Error {
	return newErr(KindChainConflict, "chain_conflict",
		fmt.Sprintf("concurrent append lost for trace %s", traceID), nil)
}

func NewQuotaExceeded(unit string) *Error {
	return newErr(KindQuotaExceeded, "quota_exceeded_"+unit, unit+" monthly quota exceeded", nil)
}

func NewForwardError(reason string, err error) *Error {
	return newErr(KindForwardError, reason, "forward attempt failed", err)
}

func NewStorageError(msg string, err error) *Error {
	return newErr(KindStorageError, "storage_error", msg, err)
}

// CountsAsVEx reports whether an exchange that terminates with this error
// should still be counted as one Verified Exchange, per the error
// handling design's "VEx counted?" column.
func (e *Error) CountsAsVEx() bool {
	return e.Kind == KindForwardError || e.Kind == KindPolicyDenied
}
