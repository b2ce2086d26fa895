package detection

import "errors"

// Sentinel errors for detector construction and inference.
var (
	// ErrModelNotFound is returned when the model file does not exist.
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrModelLoad is returned when OpenCV cannot parse the model.
	ErrModelLoad = errors.New("detection: failed to load model")

	// ErrEmptyImage is returned when Detect receives an empty Mat.
	ErrEmptyImage = errors.New("detection: empty image")

	// ErrUnexpectedOutput is returned when the network output shape does
	// not match a YOLOv8 segmentation head.
	ErrUnexpectedOutput = errors.New("detection: unexpected model output")
)
