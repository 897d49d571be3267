// Package errs holds the error taxonomy shared by the catalog and stream
// services: sentinel errors for conditions the caller is expected to branch
// on, and thin wrapper types for conditions that carry the failing operation
// along with them.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotRegistered = errors.New("actor not registered")
	ErrNotFound      = errors.New("not found")
)

// StorageError wraps a failure from the KV or blob capability.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// BrokerError wraps a failure from the broker transport.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker: %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}
