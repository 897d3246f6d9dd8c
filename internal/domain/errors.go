package domain

import (
	"errors"
	"fmt"
)

// ErrorKind partitions failures by how callers must treat them:
// config errors fail fast at startup, ingestion errors are loud,
// retrieval errors degrade to empty results, generation errors become
// user-safe message text.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindIngestion  ErrorKind = "ingestion"
	KindRetrieval  ErrorKind = "retrieval"
	KindGeneration ErrorKind = "generation"
)

// Error is a tagged failure carrying the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a tagged error from a format string.
func Errf(kind ErrorKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of a tagged error, or "" for untagged errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
