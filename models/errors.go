package models

import "errors"

// Errors shared by the builder, the stores and the query service.
// Callers wrap them with context and match with errors.Is.
var (
	// ErrConfiguration indicates a missing or invalid directory, file or setting.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmptyInput indicates the image directory holds no candidate images.
	ErrEmptyInput = errors.New("no images found")

	// ErrBuild indicates images were found but no embedding was produced.
	ErrBuild = errors.New("build failed")

	// ErrValidation indicates a rejected query. Its message is safe to show callers.
	ErrValidation = errors.New("invalid request")

	// ErrSearchFailure is the opaque error returned when embedding or kNN search fails.
	ErrSearchFailure = errors.New("search failed")
)

// ValidationError is an ErrValidation carrying a caller-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is reports ErrValidation so callers can use errors.Is.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
