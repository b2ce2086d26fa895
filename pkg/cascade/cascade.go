// Package cascade runs the two-stage body → face detection cascade.
//
// The body detector sees the full frame. The face detector only sees the
// body's enlarged crop, which keeps small camel faces detectable and is
// cheaper than scanning the whole frame.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/teslashibe/go-camelbeauty/pkg/detection"
	"github.com/teslashibe/go-camelbeauty/pkg/geometry"
	"gocv.io/x/gocv"
)

// ErrBodyStage wraps failures of the body detector. Face detector failures
// never surface; they downgrade to "no face".
var ErrBodyStage = errors.New("cascade: body stage failed")

// Config holds cascade thresholds.
type Config struct {
	BodyConfidence float32
	BodyIoU        float32
	FaceConfidence float32
	FaceIoU        float32

	// EnlargePercent pads the body box before cropping for the face stage.
	EnlargePercent float64

	BodyClass string
	FaceClass string

	Logger *slog.Logger
}

// DefaultConfig returns the thresholds the camel models were tuned with.
func DefaultConfig() Config {
	return Config{
		BodyConfidence: 0.5,
		BodyIoU:        0.5,
		FaceConfidence: 0.25,
		FaceIoU:        0.5,
		EnlargePercent: 0.05,
		BodyClass:      detection.BodyClass,
		FaceClass:      detection.FaceClass,
		Logger:         slog.Default(),
	}
}

// Option is a functional option for configuring the cascade.
type Option func(*Config)

// WithBodyThresholds sets the body detector confidence and IoU thresholds.
func WithBodyThresholds(conf, iou float32) Option {
	return func(c *Config) {
		c.BodyConfidence = conf
		c.BodyIoU = iou
	}
}

// WithFaceThresholds sets the face detector confidence and IoU thresholds.
func WithFaceThresholds(conf, iou float32) Option {
	return func(c *Config) {
		c.FaceConfidence = conf
		c.FaceIoU = iou
	}
}

// WithEnlargePercent sets the body box padding used for the face crop.
func WithEnlargePercent(p float64) Option {
	return func(c *Config) { c.EnlargePercent = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Cascade chains a body detector and a face detector.
type Cascade struct {
	body   detection.Detector
	face   detection.Detector
	config Config
	logger *slog.Logger
}

// New creates a cascade. Both detectors are borrowed, not owned.
func New(body, face detection.Detector, opts ...Option) *Cascade {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{
		body:   body,
		face:   face,
		config: cfg,
		logger: logger.With("component", "cascade"),
	}
}

// Config returns the active configuration.
func (c *Cascade) Config() Config {
	return c.config
}

// Outcome is the result of one cascade run.
type Outcome struct {
	// BodyFound is false when no body was detected; nothing else is set then.
	BodyFound bool

	// Body is the primary body in the full image frame.
	Body detection.Detection

	// BodyCrop is Body's box enlarged by EnlargePercent, in the full frame.
	// It is the region the face detector ran on and may be degenerate.
	BodyCrop image.Rectangle

	FaceFound bool

	// Face is the primary face in BodyCrop's local frame.
	Face detection.Detection

	// FaceGlobal is Face projected into the full frame, for reporting.
	FaceGlobal detection.Detection
}

// FaceBox returns the face box in the full frame, or nil.
func (o *Outcome) FaceBox() *image.Rectangle {
	if !o.FaceFound {
		return nil
	}
	r := o.FaceGlobal.Box
	return &r
}

// Close releases every mask held by the outcome.
func (o *Outcome) Close() {
	o.Body.Close()
	o.Face.Close()
	o.FaceGlobal.Close()
}

// Run executes the cascade on an RGB image.
//
// A nil error with BodyFound=false means no camel was found. Body detector
// errors are returned wrapped in ErrBodyStage. Face detector errors are
// logged and treated as no face.
func (c *Cascade) Run(ctx context.Context, img gocv.Mat) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodies, err := c.body.Detect(img, c.config.BodyConfidence, c.config.BodyIoU)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyStage, err)
	}
	bodies = detection.FilterClass(bodies, c.config.BodyClass)

	out := &Outcome{}
	best := detection.SelectBest(bodies)
	if best < 0 {
		c.logger.Debug("no body detected")
		return out, nil
	}

	out.BodyFound = true
	out.Body = detection.Take(bodies, best)
	out.BodyCrop = geometry.Enlarge(out.Body.Box, img.Cols(), img.Rows(), c.config.EnlargePercent)

	if !geometry.Valid(out.BodyCrop) {
		c.logger.Debug("degenerate body crop, skipping face stage", "box", out.Body.Box)
		return out, nil
	}

	c.runFace(img, out)
	return out, nil
}

func (c *Cascade) runFace(img gocv.Mat, out *Outcome) {
	crop := img.Region(out.BodyCrop)
	defer crop.Close()

	faces, err := c.face.Detect(crop, c.config.FaceConfidence, c.config.FaceIoU)
	if err != nil {
		c.logger.Warn("face detection failed, continuing without face", "error", err)
		return
	}
	faces = detection.FilterClass(faces, c.config.FaceClass)

	best := detection.SelectBest(faces)
	if best < 0 {
		return
	}

	out.FaceFound = true
	out.Face = detection.Take(faces, best)

	parent := image.Pt(img.Cols(), img.Rows())
	projected := detection.ProjectToParent([]detection.Detection{out.Face}, out.BodyCrop.Min, out.BodyCrop.Size(), parent)
	out.FaceGlobal = projected[0]
}
