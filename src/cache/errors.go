package cache

import (
	"errors"
	"fmt"
)

var (
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrSerializationFailed = errors.New("serialization failed")
)

// StorageError is returned by every cache operation. Code is one of the
// sentinel errors above; errors.Is matches both Code and the wrapped cause.
type StorageError struct {
	Op   string
	Code error
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Code, e.Err)
}

func (e *StorageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

func unavailable(op string, err error) error {
	return &StorageError{Op: op, Code: ErrStorageUnavailable, Err: err}
}

func txFailed(op string, err error) error {
	return &StorageError{Op: op, Code: ErrTransactionFailed, Err: err}
}

func serialization(op string, err error) error {
	return &StorageError{Op: op, Code: ErrSerializationFailed, Err: err}
}
