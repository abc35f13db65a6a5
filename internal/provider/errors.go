package provider

import "fmt"

// Error is a well-formed provider response whose envelope code signals a
// business failure. It is never retried: the provider understood the
// request and rejected it, so repeating it would change nothing. The code
// and message are preserved verbatim for operator diagnosis.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider rejected request: code=%d msg=%q", e.Code, e.Msg)
}

// StatusError is a non-200 HTTP response from the provider, treated as a
// transport-level failure and retried
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP status %d", e.StatusCode)
}
