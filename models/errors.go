package models

import "errors"

// ErrorCode is the stable, machine-readable reason for a rejection. Clients
// must branch on the code, never on Message.
type ErrorCode string

const (
	CodeInvalidFormat   ErrorCode = "invalid_format"
	CodeScopeRequired   ErrorCode = "scope_required"
	CodeSessionNotFound ErrorCode = "session_not_found"
	CodeSessionClosed   ErrorCode = "session_closed"
	CodeExpiredCode     ErrorCode = "expired_code"
	CodeAlreadyUsed     ErrorCode = "already_used"
	CodeAccessDenied    ErrorCode = "access_denied"
	CodeNotEnrolled     ErrorCode = "not_enrolled"
	CodeNoToken         ErrorCode = "no_token"
)

type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Is matches any *Error carrying the same code, so a sentinel still matches
// after the message has been specialised.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidFormat   = &Error{Code: CodeInvalidFormat, Message: "token is empty or not recognised"}
	ErrScopeRequired   = &Error{Code: CodeScopeRequired, Message: "department and year are required"}
	ErrSessionNotFound = &Error{Code: CodeSessionNotFound, Message: "session not found"}
	ErrSessionClosed   = &Error{Code: CodeSessionClosed, Message: "session is closed"}
	ErrExpiredCode     = &Error{Code: CodeExpiredCode, Message: "code expired or superseded"}
	ErrAlreadyUsed     = &Error{Code: CodeAlreadyUsed, Message: "code already used"}
	ErrAccessDenied    = &Error{Code: CodeAccessDenied, Message: "code is scoped to another department or year"}
	ErrNotEnrolled     = &Error{Code: CodeNotEnrolled, Message: "student is not on the session roster"}
	ErrNoToken         = &Error{Code: CodeNoToken, Message: "session has no live token"}
)

// CodeOf extracts the code from err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
