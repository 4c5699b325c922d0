package session

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes let transports and UI layers branch on failure kind without
// string matching on messages.
const (
	TextCodeUnauthenticated      = "UNAUTHENTICATED"
	TextCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	TextCodeForbidden            = "FORBIDDEN"
	TextCodePinLocked            = "PIN_LOCKED"
	TextCodePinRejectedWeak      = "PIN_REJECTED_WEAK"
	TextCodePinRejectedReused    = "PIN_REJECTED_REUSED"
	TextCodeNetworkError         = "NETWORK_ERROR"
	TextCodeMalformedCredential  = "MALFORMED_CREDENTIAL"
	TextCodeCSRFUnavailable      = "CSRF_UNAVAILABLE"
	TextCodeStorageError         = "STORAGE_ERROR"
)

// ErrUnauthenticated is returned when a protected call is attempted with
// no active session; the call is never sent.
var ErrUnauthenticated = goerrors.New("no authenticated session", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrAuthenticationFailed is returned when a refresh did not restore a
// usable credential.
var ErrAuthenticationFailed = goerrors.New("authentication could not be restored", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthenticationFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when the session is valid but lacks the
// required permission or role.
var ErrForbidden = goerrors.New("missing required permission or role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrPinLocked is the single consistent error for a locked-out username.
// It carries the remaining lockout duration in metadata and deliberately
// nothing else.
var ErrPinLocked = goerrors.New("too many failed attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodePinLocked)

// ErrPinRejectedWeak blocks PIN setup when the strength classifier
// reports Weak.
var ErrPinRejectedWeak = goerrors.New("PIN is too easy to guess", goerrors.CategoryValidation).
	WithTextCode(TextCodePinRejectedWeak).
	WithCode(goerrors.CodeBadRequest)

// ErrPinRejectedReused blocks PIN setup when the candidate matches one of
// the recently used PINs.
var ErrPinRejectedReused = goerrors.New("PIN was used recently, choose a different one", goerrors.CategoryValidation).
	WithTextCode(TextCodePinRejectedReused).
	WithCode(goerrors.CodeBadRequest)

// ErrMalformedCredential is returned when a bearer token fails structural
// parsing (not exactly three segments, undecodable payload).
var ErrMalformedCredential = goerrors.New("credential failed structural parsing", goerrors.CategoryAuth).
	WithTextCode(TextCodeMalformedCredential).
	WithCode(goerrors.CodeUnauthorized)

// ErrCSRFUnavailable is a retryable condition: the anti-forgery token
// could not be ensured, so the state-changing request was not sent.
var ErrCSRFUnavailable = goerrors.New("anti-forgery token unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeCSRFUnavailable).
	WithCode(goerrors.CodeInternal)

func textCodeIs(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsUnauthenticated checks for the short-circuit "no session" failure.
func IsUnauthenticated(err error) bool {
	return textCodeIs(err, TextCodeUnauthenticated)
}

// IsAuthenticationFailed checks for a failed refresh-and-retry cycle.
func IsAuthenticationFailed(err error) bool {
	return textCodeIs(err, TextCodeAuthenticationFailed)
}

// IsPinLocked checks for an active lockout window.
func IsPinLocked(err error) bool {
	return textCodeIs(err, TextCodePinLocked)
}

// IsMalformedCredential checks for structural token parse failures.
func IsMalformedCredential(err error) bool {
	return textCodeIs(err, TextCodeMalformedCredential)
}

func wrapNetwork(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, msg).
		WithTextCode(TextCodeNetworkError)
}

func wrapStorage(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeStorageError)
}
