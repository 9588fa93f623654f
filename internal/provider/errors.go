package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures
type ErrorKind string

const (
	KindSubmissionRejected ErrorKind = "SubmissionRejected"
	KindTransient          ErrorKind = "Transient"
	KindTaskFailed         ErrorKind = "TaskFailed"
)

// Error is returned by provider clients. StatusCode is the HTTP status when
// the failure came from a response, 0 otherwise.
type Error struct {
	Kind       ErrorKind
	Detail     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rejected builds a SubmissionRejected error
func Rejected(statusCode int, detail string, err error) *Error {
	return &Error{Kind: KindSubmissionRejected, Detail: detail, StatusCode: statusCode, Err: err}
}

// Transient builds a Transient error
func Transient(statusCode int, detail string, err error) *Error {
	return &Error{Kind: KindTransient, Detail: detail, StatusCode: statusCode, Err: err}
}

// Failed builds a TaskFailed error carrying the provider's reason
func Failed(reason string) *Error {
	return &Error{Kind: KindTaskFailed, Detail: reason}
}

// KindOf returns the kind of a provider error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a provider error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Reason returns the human readable detail of a provider error
func Reason(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Detail != "" {
		return pe.Detail
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
