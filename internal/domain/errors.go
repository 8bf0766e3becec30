package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// UnauthorizedError is returned when a delete message's issuer does not match
// the target's original creator. The operation is refused and never retried.
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

func (e UnauthorizedError) Is(target error) bool {
	_, ok := target.(UnauthorizedError)
	if ok {
		return true
	}
	_, ok = target.(*UnauthorizedError)
	return ok
}

// ErrUnauthorized is the sentinel error for refused operations.
var ErrUnauthorized = UnauthorizedError{}

// TemplateInUseError guards template deletion: a template referenced by any
// record's templatesUsed map cannot be removed.
type TemplateInUseError struct {
	TxID       string
	References int64
}

func (e TemplateInUseError) Error() string {
	return fmt.Sprintf("template %s is in use by %d record(s)", e.TxID, e.References)
}

func (e TemplateInUseError) Is(target error) bool {
	_, ok := target.(TemplateInUseError)
	if ok {
		return true
	}
	_, ok = target.(*TemplateInUseError)
	return ok
}

// ErrTemplateInUse is the sentinel error for guarded template deletes.
var ErrTemplateInUse = TemplateInUseError{}

// StoreUnavailableError is the only fatal error class inside a sync cycle:
// it aborts the cycle and is surfaced to the operator.
type StoreUnavailableError struct {
	Cause error
}

func (e StoreUnavailableError) Error() string {
	if e.Cause == nil {
		return "store unavailable"
	}
	return fmt.Sprintf("store unavailable: %v", e.Cause)
}

func (e StoreUnavailableError) Unwrap() error { return e.Cause }

func (e StoreUnavailableError) Is(target error) bool {
	_, ok := target.(StoreUnavailableError)
	if ok {
		return true
	}
	_, ok = target.(*StoreUnavailableError)
	return ok
}

// ErrStoreUnavailable is the sentinel error for store connectivity failure.
var ErrStoreUnavailable = StoreUnavailableError{}
