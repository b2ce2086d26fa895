package scorer

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrModelNotFound is returned when an encoder or weights file is missing.
	ErrModelNotFound = errors.New("scorer: model file not found")

	// ErrModelLoad is returned when an encoder network cannot be loaded.
	ErrModelLoad = errors.New("scorer: failed to load model")

	// ErrMissingWeight is returned when a required tensor is absent from the weights.
	ErrMissingWeight = errors.New("scorer: missing weight")

	// ErrWeightShape is returned when a tensor has an unexpected shape.
	ErrWeightShape = errors.New("scorer: unexpected weight shape")

	// ErrFeatureDim is returned when an encoder returns a vector of the wrong size.
	ErrFeatureDim = errors.New("scorer: unexpected feature dimension")

	// ErrEmptyInput is returned when an encoder receives an empty blob.
	ErrEmptyInput = errors.New("scorer: empty encoder input")

	// ErrBatchMismatch is returned when body and face batches differ in length.
	ErrBatchMismatch = errors.New("scorer: body and face batch sizes differ")

	// ErrNoHeads is returned when the weights define no attribute heads.
	ErrNoHeads = errors.New("scorer: no attribute heads in weights")

	// ErrSafetensors is returned for malformed safetensors files.
	ErrSafetensors = errors.New("scorer: malformed safetensors")
)

// ShapeError reports a tensor whose shape does not match what a layer needs.
type ShapeError struct {
	Name string
	Got  []int
	Want []int
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("scorer: weight %q has shape %v, want %v", e.Name, e.Got, e.Want)
}

// Unwrap returns ErrWeightShape so callers can match with errors.Is.
func (e *ShapeError) Unwrap() error {
	return ErrWeightShape
}

// EncodeError wraps an encoder failure with the region it was encoding.
type EncodeError struct {
	Region string // "body" or "face"
	Index  int    // position in the batch
	Err    error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("scorer [%s #%d]: %v", e.Region, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}
