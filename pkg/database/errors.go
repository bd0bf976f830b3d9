package database

import "errors"

var (
	// ErrCollectionNotFound indicates an operation on an unknown collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCollectionExists indicates creating a collection that already exists.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrIndexExists indicates creating an index whose name is taken.
	ErrIndexExists = errors.New("index already exists")
	// ErrIndexNotFound indicates dropping an unknown index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrDuplicateKey indicates a unique index violation.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrParallelArrays indicates a document with arrays on two fields of the
	// same compound index, which has no well-defined key set.
	ErrParallelArrays = errors.New("cannot index parallel arrays")
	// ErrClosed indicates an operation on a closed database.
	ErrClosed = errors.New("database is closed")
)
