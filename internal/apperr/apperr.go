// Package apperr defines the error taxonomy shared by the stage clients, the
// retrying HTTP client and the pipeline coordinator.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind.
// Callers branch on the kind with errors.Is against the exported sentinels or
// with KindOf, never on message text.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindNetwork
	KindRateLimitExceeded
	KindInvalidResponse
	KindDecoding
	KindCharacterNotFound
	KindServer
	KindQuotaExceeded
	KindTimeout
	KindCanceled
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindConfiguration:     "configuration_error",
	KindNetwork:           "network_error",
	KindRateLimitExceeded: "rate_limit_exceeded",
	KindInvalidResponse:   "invalid_response",
	KindDecoding:          "decoding_error",
	KindCharacterNotFound: "character_not_found",
	KindServer:            "server_error",
	KindQuotaExceeded:     "quota_exceeded",
	KindTimeout:           "timeout",
	KindCanceled:          "canceled",
	KindInvalidInput:      "invalid_input",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Attempts   int
	Err        error
	// Body is the raw upstream response for Server errors. It is not part of Error().
	Body []byte
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels: a target *Error with only Kind set matches any error
// of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Err != nil || t.Attempts != 0 {
		return false
	}
	if t.StatusCode != 0 && t.StatusCode != e.StatusCode {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrRateLimitExceeded = &Error{Kind: KindRateLimitExceeded}
	ErrInvalidResponse   = &Error{Kind: KindInvalidResponse}
	ErrDecoding          = &Error{Kind: KindDecoding}
	ErrCharacterNotFound = &Error{Kind: KindCharacterNotFound}
	ErrServer            = &Error{Kind: KindServer}
	ErrQuotaExceeded     = &Error{Kind: KindQuotaExceeded}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCanceled          = &Error{Kind: KindCanceled}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
)

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Server builds a ServerError for a non-2xx response.
func Server(op string, status int, body string) *Error {
	raw := []byte(body)
	body = strings.TrimSpace(body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Error{Kind: KindServer, Op: op, StatusCode: status, Err: err, Body: raw}
}

// FromContext converts a context error into Timeout or Canceled.
func FromContext(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, op, err)
	}
	return New(KindCanceled, op, err)
}

// KindOf returns the kind of the outermost *Error in the chain. Bare context
// errors are classified as Timeout / Canceled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// BodyOf returns the upstream response body carried by err, or nil.
func BodyOf(err error) []byte {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Body
	}
	return nil
}

// AttemptsOf returns how many attempts the retrying client made, or 0.
func AttemptsOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}

// Retriable reports whether a single HTTP attempt that failed with err may be
// re-issued: network failures, timeouts of the attempt itself, 5xx, 408 and 429.
func Retriable(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Kind {
	case KindNetwork:
		return true
	case KindServer:
		return ae.StatusCode >= http.StatusInternalServerError ||
			ae.StatusCode == http.StatusRequestTimeout ||
			ae.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// WithAttempts returns a copy of err's *Error tagged with the attempt count.
// Errors outside the taxonomy are wrapped as network errors.
func WithAttempts(err error, attempts int) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		cp := *ae
		cp.Attempts = attempts
		return &cp
	}
	return &Error{Kind: KindNetwork, Attempts: attempts, Err: err}
}
