// Package errs is the error taxonomy shared by every newsrag component.
// Callers branch on Kind to decide between retrying, asking the user to fix
// their input, and starting a new conversation.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindRetrievalUnavailable  Kind = "retrieval_unavailable"
	KindGenerationUnavailable Kind = "generation_unavailable"
	KindGenerationRejected    Kind = "generation_rejected"
	KindSessionExpired        Kind = "session_expired"
	KindInternal              Kind = "internal"
)

// Error carries a Kind, a human readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrSessionExpired)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation            = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrRetrievalUnavailable  = &Error{Kind: KindRetrievalUnavailable, Message: "retrieval unavailable"}
	ErrGenerationUnavailable = &Error{Kind: KindGenerationUnavailable, Message: "generation unavailable"}
	ErrGenerationRejected    = &Error{Kind: KindGenerationRejected, Message: "generation rejected"}
	ErrSessionExpired        = &Error{Kind: KindSessionExpired, Message: "session expired"}
	ErrInternal              = &Error{Kind: KindInternal, Message: "internal error"}
)

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation reports bad caller input. Raised before any external call.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...), nil)
}

func RetrievalUnavailable(msg string, err error) *Error {
	return New(KindRetrievalUnavailable, msg, err)
}

func GenerationUnavailable(msg string, err error) *Error {
	return New(KindGenerationUnavailable, msg, err)
}

func GenerationRejected(msg string, err error) *Error {
	return New(KindGenerationRejected, msg, err)
}

func SessionExpired(id string) *Error {
	return New(KindSessionExpired, fmt.Sprintf("session %s has expired; start a new session", id), nil)
}

func Internal(msg string, err error) *Error {
	return New(KindInternal, msg, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal for foreign errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Retryable reports whether a single retry with backoff is allowed.
func Retryable(err error) bool {
	return IsKind(err, KindGenerationUnavailable)
}
