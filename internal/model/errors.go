package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of save operations.
type ErrorKind int

const (
	// KindInternal covers store/connection failures and integrity violations.
	KindInternal ErrorKind = iota
	// KindInvalidInput means missing or malformed caller-supplied data.
	KindInvalidInput
	// KindStorageUnavailable means the blob medium could not be written or read.
	KindStorageUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type returned by the save store and service.
type Error struct {
	Kind  ErrorKind
	Op    string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidInput creates a KindInvalidInput error for field.
func InvalidInput(op, field, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Field: field, Err: errors.New(msg)}
}

// StorageUnavailable wraps a blob medium failure.
func StorageUnavailable(op string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Op: op, Err: err}
}

// Internal wraps a store failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// ErrIntegrity marks a violated primary key invariant.
var ErrIntegrity = errors.New("integrity violation")

// KindOf returns the kind of err. Errors not produced by this package are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldOf returns the offending field of an invalid input error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// DeleteOutcome is the result of an owner-initiated delete.
type DeleteOutcome int

const (
	DeleteNotFound DeleteOutcome = iota
	DeleteRemoved
)

func (o DeleteOutcome) String() string {
	switch o {
	case DeleteRemoved:
		return "removed"
	case DeleteNotFound:
		return "not_found"
	}
	return fmt.Sprintf("DeleteOutcome(%d)", int(o))
}

// DeleteResult carries the outcome and, when removed, what the row pointed at.
type DeleteResult struct {
	Outcome      DeleteOutcome
	BlobLocation string
	TitleID      *int64
}
