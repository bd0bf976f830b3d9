package query

import "errors"

var (
	// ErrNoQueryExecutionPlans is returned when planning cannot produce any
	// viable plan: a mandatory-index stage with no usable index, notablescan
	// blocking the collection-scan fallback, a hint that matched nothing
	// usable, or an unplannable OR branch.
	ErrNoQueryExecutionPlans = errors.New("no query execution plans")

	// ErrBadHint is returned for a hint that matches more than one index or
	// is otherwise malformed.
	ErrBadHint = errors.New("bad hint")

	// ErrIndexNotFound is returned for a hint naming no existing index.
	ErrIndexNotFound = errors.New("hint index not found")

	// ErrInvalidFilter is returned when a filter document cannot be parsed
	// into a predicate tree.
	ErrInvalidFilter = errors.New("invalid filter")
)
