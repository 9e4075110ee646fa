// Package failures classifies gateway and coordinator errors into the
// user-facing taxonomy shared by the chain, tracker and identity flows.
package failures

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class is a taxonomy bucket. Callers branch on the class, never on vendor text.
type Class int

const (
	Unknown Class = iota
	UserRejected
	PermissionDenied
	NotFound
	InvalidAmount
	Transient
	PartialCompletion
	Reverted
)

func (c Class) String() string {
	switch c {
	case UserRejected:
		return "user_rejected"
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	case InvalidAmount:
		return "invalid_amount"
	case Transient:
		return "transient"
	case PartialCompletion:
		return "partial_completion"
	case Reverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Class  Class
	Op     string // gateway or coordinator step, e.g. "tracker.create_issue"
	Reason string // human-readable cause, safe to show
	Err    error
}

// New creates a classified error.
func New(class Class, op, reason string, err error) *Error {
	return &Error{Class: class, Op: op, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Class.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a class marker of the same class.
func (e *Error) Is(target error) bool {
	m, ok := target.(classMarker)
	return ok && e.Class == Class(m)
}

type classMarker Class

func (m classMarker) Error() string { return Class(m).String() }

// Class markers for errors.Is checks.
var (
	ErrUserRejected      error = classMarker(UserRejected)
	ErrPermissionDenied  error = classMarker(PermissionDenied)
	ErrNotFound          error = classMarker(NotFound)
	ErrInvalidAmount     error = classMarker(InvalidAmount)
	ErrTransient         error = classMarker(Transient)
	ErrPartialCompletion error = classMarker(PartialCompletion)
	ErrReverted          error = classMarker(Reverted)
)

// ClassOf returns the class of the outermost classified error in the chain.
// Unclassified network and deadline errors are reported as Transient.
func ClassOf(err error) Class {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	if IsNetworkError(err) {
		return Transient
	}
	return Unknown
}

// CauseOf returns the class beneath a partial-completion wrapper, or the
// class itself for any other error.
func CauseOf(err error) Class {
	var fe *Error
	if !errors.As(err, &fe) {
		return ClassOf(err)
	}
	if fe.Class != PartialCompletion || fe.Err == nil {
		return fe.Class
	}
	return ClassOf(fe.Err)
}

// Retryable reports whether the failed step may be repeated without side effects.
func Retryable(err error) bool {
	return ClassOf(err) == Transient
}

// Partial wraps a chain failure that happened after the tracker issue was created.
func Partial(op, trackerURL string, cause error) *Error {
	return &Error{
		Class:  PartialCompletion,
		Op:     op,
		Reason: fmt.Sprintf("issue %s created but bounty not funded", trackerURL),
		Err:    cause,
	}
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Message returns the text shown to the user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	class := ClassOf(err)
	if class == PartialCompletion {
		var fe *Error
		errors.As(err, &fe)
		return fmt.Sprintf("Warning: %s. %s", fe.Reason, causeMessage(CauseOf(err), fe.Err))
	}
	return causeMessage(class, err)
}

func causeMessage(class Class, err error) string {
	reason := ""
	var fe *Error
	if errors.As(err, &fe) {
		reason = fe.Reason
	}
	switch class {
	case UserRejected:
		if reason != "" {
			return "The request was declined: " + reason + "."
		}
		return "The request was declined."
	case PermissionDenied:
		if reason != "" {
			return "Permission denied: " + reason + "."
		}
		return "Permission denied. Sign in again with the required scope."
	case NotFound:
		return "The target was not found or is not accessible. Pick another one."
	case InvalidAmount:
		if reason != "" {
			return "Invalid amount: " + reason + "."
		}
		return "Invalid amount."
	case Transient:
		return "Network error. Please try again."
	case Reverted:
		if reason != "" {
			return "Transaction reverted: " + reason + "."
		}
		return "Transaction reverted."
	default:
		if errors.Is(err, context.Canceled) {
			return "The operation was cancelled."
		}
		if err != nil {
			return err.Error()
		}
		return "Unexpected error."
	}
}
