package forge

import (
	"errors"
	"fmt"
)

// Kind classifies a forge API failure into the categories callers act on.
type Kind int

const (
	// KindUpstream covers 5xx responses and transport failures that survived retries.
	KindUpstream Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "upstream"
	}
}

// Error is a typed forge API error. StatusCode is zero for transport failures.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a forge not-found error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsConflict reports whether err is a forge conflict error.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsUnauthorized reports whether err is a forge unauthorized error.
func IsUnauthorized(err error) bool { return isKind(err, KindUnauthorized) }

func isKind(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}
