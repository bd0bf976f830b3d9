package storage

import "errors"

var (
	// ErrDuplicateKey indicates an insert whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrKeyNotFound indicates a lookup or delete for an absent key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("store is closed")
)
