package webservices

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. The typed errors below match them.
var (
	ErrDuplicateID          = errors.New("webservices: duplicate id")
	ErrDuplicateName        = errors.New("webservices: duplicate name")
	ErrNotFound             = errors.New("webservices: not found")
	ErrConflict             = errors.New("webservices: concurrent modification")
	ErrMissingAttributes    = errors.New("webservices: missing attributes")
	ErrInternalStore        = errors.New("webservices: internal store error")
	ErrRegistryNotAvailable = errors.New("webservices: registry not available")
)

// DuplicateIDError is returned when (service, id) is already registered.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate web service id %q", e.ID)
}

func (e *DuplicateIDError) Is(target error) bool { return target == ErrDuplicateID }

// DuplicateNameError is returned when a name is already used in a tenant scope.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate web service name %q", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// NotFoundError carries the id or name that could not be resolved.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("web service %q not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is returned when a record changed between read and write.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("web service %q was modified concurrently", e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type MissingAttributesError struct {
	Msg string
}

func (e *MissingAttributesError) Error() string {
	return "missing attributes: " + e.Msg
}

func (e *MissingAttributesError) Is(target error) bool { return target == ErrMissingAttributes }

// InternalStoreError wraps a native backend error so callers see one taxonomy
// regardless of the registry in use.
type InternalStoreError struct {
	Op  string
	Err error
}

func (e *InternalStoreError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *InternalStoreError) Unwrap() error { return e.Err }

func (e *InternalStoreError) Is(target error) bool { return target == ErrInternalStore }

// StoreError wraps err as an InternalStoreError unless it already belongs to
// the taxonomy.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrDuplicateID, ErrDuplicateName, ErrNotFound, ErrConflict, ErrInternalStore} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &InternalStoreError{Op: op, Err: err}
}
