package connector

import "fmt"

// ErrorKind is the closed transport-error taxonomy every upstream
// failure is classified into.
type ErrorKind string

const (
	ErrorAuthFailed  ErrorKind = "auth_failed"
	ErrorNotFound    ErrorKind = "not_found"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorNetwork     ErrorKind = "network"
	ErrorServer      ErrorKind = "server"
)

// NetworkCause narrows ErrorNetwork failures to the underlying dial
// problem.
type NetworkCause string

const (
	NetworkDNSFailure   NetworkCause = "dns_failure"
	NetworkConnRefused  NetworkCause = "conn_refused"
	NetworkTLSFailure   NetworkCause = "tls_failure"
	NetworkCauseUnknown NetworkCause = "unknown"
)

// Error is the closed sum type every Client method returns on
// failure. It never crosses the exposed-endpoint boundary directly;
// internal/httpapi translates it to internal/errors.AppError.
type Error struct {
	Kind ErrorKind

	// RetryAfterSeconds is set only for ErrorRateLimited, from the
	// upstream's Retry-After header.
	RetryAfterSeconds int

	// Cause is set only for ErrorNetwork.
	Cause NetworkCause

	// Status and Message are set only for ErrorServer.
	Status  int
	Message string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorRateLimited:
		return fmt.Sprintf("connector rate limited, retry after %ds", e.RetryAfterSeconds)
	case ErrorNetwork:
		return fmt.Sprintf("connector network error (%s): %v", e.Cause, e.Err)
	case ErrorServer:
		return fmt.Sprintf("connector server error (status %d): %s", e.Status, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("connector error (%s): %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("connector error (%s)", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError reports whether err is (or wraps) a *Error.
func AsError(err error) (*Error, bool) {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			return ce, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}

func authFailed(err error) *Error {
	return &Error{Kind: ErrorAuthFailed, Err: err}
}

func notFound(err error) *Error {
	return &Error{Kind: ErrorNotFound, Err: err}
}

func rateLimited(retryAfter int) *Error {
	return &Error{Kind: ErrorRateLimited, RetryAfterSeconds: retryAfter}
}

func timeoutErr(err error) *Error {
	return &Error{Kind: ErrorTimeout, Err: err}
}

func networkErr(cause NetworkCause, err error) *Error {
	return &Error{Kind: ErrorNetwork, Cause: cause, Err: err}
}

func serverErr(status int, message string) *Error {
	return &Error{Kind: ErrorServer, Status: status, Message: message}
}
