// Package apperr defines the failure taxonomy shared by the session, auth
// client and media layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNone        Kind = ""
	KindNetwork     Kind = "network_failure"
	KindRejected    Kind = "auth_rejected"
	KindWrongPass   Kind = "wrong_password"
	KindUnknownUser Kind = "unknown_user"
	KindValidation  Kind = "validation_failure"
	KindRemoteStore Kind = "remote_store_failure"
)

// Rejection reports whether k is an authentication rejection of any flavour.
func (k Kind) Rejection() bool {
	return k == KindRejected || k == KindWrongPass || k == KindUnknownUser
}

// Error carries a Kind, an optional HTTP status and a human readable message.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error caused by err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err. Errors outside the taxonomy are treated as
// network failures because they can only come from transport or decoding.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}

// Message returns the human readable part of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
