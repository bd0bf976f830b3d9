package aggregation

import "errors"

var (
	// ErrInvalidStage indicates a stage specification that fails validation.
	ErrInvalidStage = errors.New("invalid aggregation stage")
	// ErrUnknownStage indicates a stage name the registry does not know.
	ErrUnknownStage = errors.New("unknown aggregation stage")
	// ErrEmptyPipeline indicates an aggregate request with no stages.
	ErrEmptyPipeline = errors.New("empty aggregation pipeline")
)
