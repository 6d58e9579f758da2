// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for coapgw.
package errors

import (
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Common error types
var (
	// ErrNotFound indicates that no handler is mounted for a resource path.
	ErrNotFound = errors.New("resource not found")

	// ErrNotSupported is returned by a handler that does not serve a request.
	// The responder answers it with a Reset message.
	ErrNotSupported = errors.New("not supported")

	// ErrResponderClosed indicates the responder's session has terminated.
	ErrResponderClosed = errors.New("responder closed")

	// ErrMailboxFull indicates a responder could not accept another event.
	ErrMailboxFull = errors.New("responder mailbox full")

	// ErrSessionLimit indicates the session limit has been reached.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrMalformedMessage indicates a datagram that is not a valid CoAP message.
	ErrMalformedMessage = errors.New("malformed message")
)

// StatusError is an error that carries the CoAP response code to reply with.
type StatusError struct {
	Code codes.Code
	Err  error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Status returns an error that replies with code.
func Status(code codes.Code) error {
	return &StatusError{Code: code}
}

// WithStatus attaches a response code to err.
func WithStatus(code codes.Code, err error) error {
	return &StatusError{Code: code, Err: err}
}

// Code extracts the response code carried by err.
// ErrNotFound maps to NotFound, ErrNotSupported to MethodNotAllowed and any
// other error without a code to InternalServerError.
func Code(err error) codes.Code {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrNotSupported):
		return codes.MethodNotAllowed
	default:
		return codes.InternalServerError
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ResponderError wraps an error with the resource it occurred on.
type ResponderError struct {
	Op         string // Operation that failed
	Path       string // Resource path
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ResponderError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Path, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResponderError) Unwrap() error {
	return e.Err
}

// New creates a new ResponderError.
func New(op, path, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ResponderError{
		Op:         op,
		Path:       path,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
