package service

import (
	"errors"
	"fmt"
)

var (
	// ErrListNotFound is returned when a non-create operation targets a
	// list that does not exist.
	ErrListNotFound = errors.New("list not found")
	// ErrInvalidOperation is returned for unknown operation names. It is
	// detected before the store is touched.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidPayload is returned when the operation data cannot be decoded
	// into what the operation needs.
	ErrInvalidPayload = errors.New("invalid operation payload")
	// ErrConflict is returned when the caller supplied an expected version
	// that is no longer current.
	ErrConflict = errors.New("version conflict")
	// ErrListExists is returned when creating a list whose id is taken.
	ErrListExists = errors.New("list already exists")
	// ErrRankTaken is returned when an item would share its rank with
	// another active item. It is a conflict: the writer must re-rank
	// against the current list.
	ErrRankTaken = fmt.Errorf("%w: rank already held by another item", ErrConflict)
)

// PersistenceError wraps a backend failure during a read or write.
type PersistenceError struct {
	Op     string
	ListID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s of list %s: %v", e.Op, e.ListID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
