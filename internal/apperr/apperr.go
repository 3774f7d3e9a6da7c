// Package apperr defines the error taxonomy shared by the checkout and
// payment core. Transport layers map a Kind to a response status.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimit
	KindUnavailable
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	case KindUnavailable:
		return "service_unavailable"
	case KindSecurity:
		return "security"
	default:
		return "internal"
	}
}

// Codes surfaced to clients in the "error" field.
const (
	CodeInvalidParameters    = "INVALID_PARAMETERS"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadyPaid          = "ALREADY_PAID"
	CodeDuplicateTransaction = "DUPLICATE_TRANSACTION"
	CodeConflict             = "CONFLICT"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeGatewayRateLimit     = "PAYU_RATE_LIMIT"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeAmountMismatch       = "AMOUNT_MISMATCH"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeInternal             = "INTERNAL_ERROR"
	CodePaymentProcessing    = "PAYMENT_PROCESSING_ERROR"
	CodePaymentNotRecorded   = "PAYMENT_NOT_RECORDED"
)

// Error is a classified error. RetryAfter is in seconds and only meaningful
// for KindRateLimit and KindUnavailable.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidParameters, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

func Conflict(code, msg string) *Error {
	if code == "" {
		code = CodeConflict
	}
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func RateLimited(code, msg string, retryAfter int) *Error {
	if code == "" {
		code = CodeRateLimitExceeded
	}
	return &Error{Kind: KindRateLimit, Code: code, Message: msg, RetryAfter: retryAfter}
}

func Unavailable(msg string, retryAfter int, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: CodeServiceUnavailable, Message: msg, RetryAfter: retryAfter, Err: err}
}

func Security(code, msg string) *Error {
	return &Error{Kind: KindSecurity, Code: code, Message: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

// PaymentProcessing is an internal failure while talking to the payment
// gateway.
func PaymentProcessing(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodePaymentProcessing, Message: msg, Err: err}
}

// PaymentNotRecorded marks the case where the gateway confirmed a payment
// but the order could not be updated. These need manual reconciliation.
func PaymentNotRecorded(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodePaymentNotRecorded,
		Message: "payment received but order update failed",
		Err:     err,
	}
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err; unclassified errors are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsClient reports whether err was caused by the caller's input or state
// rather than by a failing dependency. Client errors are never retried.
func IsClient(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindRateLimit, KindSecurity:
		return true
	}
	return false
}

// HTTPStatus maps an error to its transport status code.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return 500
	}
	switch e.Kind {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindRateLimit:
		return 429
	case KindUnavailable:
		return 503
	case KindSecurity:
		if e.Code == CodeAmountMismatch {
			return 400
		}
		return 403
	default:
		return 500
	}
}
