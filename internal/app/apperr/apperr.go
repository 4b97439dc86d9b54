// Package apperr provides the unified error taxonomy used from the Store up
// through the HTTP API: auth, forbidden, not_found, conflict, bad_request,
// rate_limit, internal. Handlers catch resolvable kinds; everything else
// surfaces typed with its HTTP status and code preserved.
package apperr

import (
	"fmt"
	"net/http"
)

// Kind is the coarse taxonomy bucket; Code is the specific reason within it.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindBadRequest Kind = "bad_request"
	KindRateLimit  Kind = "rate_limit"
	KindInternal   Kind = "internal"
)

// Code values referenced by §6/§7 of the control-plane contract.
const (
	CodeStaleJob              = "stale_job"
	CodeLeaseInvalid          = "lease_invalid"
	CodeIdempotencyConflict   = "idempotency_conflict"
	CodeAttemptClaimed        = "attempt_claimed"
	CodeFeatureDisabled       = "feature_disabled"
	CodeAppDisabled           = "app_disabled"
	CodeInsufficientFunds     = "insufficient_funds"
	CodeSchema                = "schema"
	CodeOriginViolation       = "origin_violation"
	CodeInvalidArtifact       = "invalid_artifact"
	CodeBlockedContentType    = "blocked_content_type"
	CodeOversize              = "oversize"
	CodeInvalidTaskDescriptor = "invalid_task_descriptor"
	CodeTaskDescriptorSensitive = "task_descriptor_sensitive"
	CodeMinPayout             = "min_payout"
	CodeBlockedDomain         = "blocked_domain"
)

// Error is the typed error every layer should produce for an expected
// failure mode. Unexpected failures should be wrapped with Internal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Kind to its wire status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func NotFound(resource string) *Error {
	return New(KindNotFound, "not_found", resource+" not found")
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func BadRequest(code, message string) *Error {
	return New(KindBadRequest, code, message)
}

func Forbidden(code, message string) *Error {
	return New(KindForbidden, code, message)
}

func Unauthorized(message string) *Error {
	return New(KindAuth, "unauthorized", message)
}

func RateLimited(message string) *Error {
	return New(KindRateLimit, "rate_limit", message)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal", "internal error", err)
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var target *Error
	ok := stdAs(err, &target)
	return target, ok
}

func stdAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether Store callers should retry the operation
// (bounded, with jitter). Only conflicts from optimistic concurrency are
// retryable; invariant violations and everything else are not.
func Retryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == KindConflict
}
