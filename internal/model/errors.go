package model

import (
	"errors"
)

// ErrorKind classifies failures across the agent
type ErrorKind string

const (
	KindInvalidURL ErrorKind = "invalid_url"
	KindVerify     ErrorKind = "verify_error"
	KindConnection ErrorKind = "connection_error"
	KindAuth       ErrorKind = "auth_error"
	KindCapacity   ErrorKind = "capacity_error"
	KindTransport  ErrorKind = "transport_error"
)

// ClassifiedError carries an error kind and whether the caller may retry later
type ClassifiedError struct {
	Kind      ErrorKind
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissingHost is returned when a target resolves to no host
	ErrMissingHost = errors.New("missing host")
	// ErrMissingID is returned when a task carries no identifier
	ErrMissingID = errors.New("missing id")

	// ErrQueueFull is returned when the job queue is at capacity
	ErrQueueFull = &ClassifiedError{Kind: KindCapacity, Err: errors.New("queue is full"), Retryable: true}
	// ErrUnauthorized is returned when the bearer token is missing or malformed
	ErrUnauthorized = &ClassifiedError{Kind: KindAuth, Err: errors.New("missing or malformed bearer token")}
	// ErrForbidden is returned when the bearer token does not match
	ErrForbidden = &ClassifiedError{Kind: KindAuth, Err: errors.New("invalid token")}
)

// NewInvalidURLError wraps err as an invalid_url failure
func NewInvalidURLError(err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindInvalidURL, Err: err}
}

// NewTransportError wraps err as a delivery failure
func NewTransportError(err error, retryable bool) *ClassifiedError {
	return &ClassifiedError{Kind: KindTransport, Err: err, Retryable: retryable}
}

// KindOf returns the kind of a classified error, or "" for anything else
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether err is marked as retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
