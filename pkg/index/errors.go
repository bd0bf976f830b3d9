package index

import "errors"

var (
	// ErrIndexExists is returned when creating an index whose name is taken
	ErrIndexExists = errors.New("index already exists")

	// ErrIndexNotFound is returned when an index name matches nothing
	ErrIndexNotFound = errors.New("index not found")

	// ErrInvalidIndexSpec is returned for a malformed index definition
	ErrInvalidIndexSpec = errors.New("invalid index specification")
)
