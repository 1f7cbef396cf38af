package slate

import (
	"errors"
	"fmt"
)

// Configuration errors are returned by Configure and delivered to the
// ConfigureAsync completion. They never reach a Handle.
var (
	ErrAlreadyConfigured       = errors.New("slate: already configured")
	ErrStorageLocationRequired = errors.New("slate: storage location required")
	ErrStorageLocationInUse    = errors.New("slate: storage location already in use")
	ErrNotConfigured           = errors.New("slate: not configured")
	ErrClosed                  = errors.New("slate: coordinator closed")
)

// ErrorKind classifies a TransactionError.
type ErrorKind int

const (
	// KindScopeViolation marks a query context or request used outside the
	// block that created it.
	KindScopeViolation ErrorKind = iota + 1
	// KindInvalidCast marks a cached snapshot whose type does not match the
	// requested entity type.
	KindInvalidCast
	// KindUnderlying wraps a failure reported by the object store.
	KindUnderlying
	// KindAborted marks a mutation discarded on request of its block.
	KindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindScopeViolation:
		return "scope violation"
	case KindInvalidCast:
		return "invalid cast"
	case KindUnderlying:
		return "underlying store error"
	case KindAborted:
		return "aborted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TransactionError is the error recorded for a failed query or mutation.
// errors.Is matches it against the sentinel of the same kind.
type TransactionError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransactionError) Error() string {
	if e.Err == nil {
		return "slate: " + e.Kind.String()
	}
	return "slate: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *TransactionError) Is(target error) bool {
	t, ok := target.(*TransactionError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrScopeViolation = &TransactionError{Kind: KindScopeViolation}
	ErrInvalidCast    = &TransactionError{Kind: KindInvalidCast}
	ErrAborted        = &TransactionError{Kind: KindAborted}
)

func scopeViolation(format string, args ...any) error {
	return &TransactionError{Kind: KindScopeViolation, Err: fmt.Errorf(format, args...)}
}

func invalidCast(format string, args ...any) error {
	return &TransactionError{Kind: KindInvalidCast, Err: fmt.Errorf(format, args...)}
}

func underlying(op string, err error) error {
	return &TransactionError{Kind: KindUnderlying, Err: fmt.Errorf("%s: %w", op, err)}
}

func isAbort(err error) bool {
	return errors.Is(err, ErrAborted)
}
