// Package domainerrors carries stable failure codes across store, service
// and transport layers. Transports map codes to status; nothing below them
// knows about HTTP.
package domainerrors

import "errors"

type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"

	// Admin sign-in taxonomy.
	CodeIdentityProvider Code = "identity_provider_error"
	CodeEmailDelivery    Code = "email_delivery_failed"
	CodeStoreUnavailable Code = "store_unavailable"

	// One-time token verification outcomes.
	CodeTokenNotFound    Code = "token_not_found"
	CodeTokenExpired     Code = "token_expired"
	CodeTokenAlreadyUsed Code = "token_already_used"
	CodeTokenLockout     Code = "token_lockout"
	CodeInvalidToken     Code = "invalid_token"
)

// Error is a coded failure. Message is safe to show to the admin.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, New(code, ""))
// tests for a code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches msg to err. A code already present in err wins over code.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether the outermost *Error in err's chain has code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in the chain,
// or CodeInternal when err carries no domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRecoverableByResend reports whether a token failure can be fixed by
// requesting a new token for the same pending login.
func IsRecoverableByResend(err error) bool {
	switch CodeOf(err) {
	case CodeTokenNotFound, CodeTokenExpired, CodeInvalidToken, CodeEmailDelivery:
		return true
	default:
		return false
	}
}
