package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error classifies a Firestore failure so the ledger can branch on
// not-found and write conflicts without touching grpc status codes.
type Error struct {
	op   string
	err  error
	kind errorKind
}

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.kind == kindNotFound
}

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool {
	return e != nil && e.kind == kindConflict
}

// WrapError classifies a Firestore error. Context cancellations pass
// through unwrapped so callers can match them with errors.Is.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var classified *Error
	if errors.As(err, &classified) {
		if op != "" && classified.op == "" {
			classified.op = op
		}
		return classified
	}

	kind := kindOther
	switch status.Code(err) {
	case codes.NotFound:
		kind = kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		kind = kindConflict
	}
	return &Error{op: op, err: err, kind: kind}
}
