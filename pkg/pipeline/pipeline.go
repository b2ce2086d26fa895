// Package pipeline wires detectors, region extraction, the scorer and the
// aggregator into single-image and batch inference.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-camelbeauty/internal/config"
	"github.com/teslashibe/go-camelbeauty/pkg/cascade"
	"github.com/teslashibe/go-camelbeauty/pkg/detection"
	"github.com/teslashibe/go-camelbeauty/pkg/region"
	"github.com/teslashibe/go-camelbeauty/pkg/score"
	"github.com/teslashibe/go-camelbeauty/pkg/scorer"
)

// Scorer produces per-head logits for one body/face pair.
type Scorer interface {
	ScoreOne(body, face region.Sample) (scorer.Logits, error)
	Close() error
}

// Config holds pipeline settings.
type Config struct {
	// Workers bounds how many images a batch processes at once.
	Workers int

	Transform      region.Transform
	EnlargePercent float64
	CascadeOptions []cascade.Option
	Aggregator     *score.Aggregator

	Logger *slog.Logger
}

// DefaultConfig returns a serial pipeline with production transforms.
func DefaultConfig() Config {
	return Config{
		Workers:        1,
		Transform:      region.DefaultTransform(),
		EnlargePercent: cascade.DefaultConfig().EnlargePercent,
		Logger:         slog.Default(),
	}
}

// Option is a functional option for configuring the pipeline.
type Option func(*Config)

// WithWorkers sets batch parallelism.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithTransform sets the region transform.
func WithTransform(t region.Transform) Option {
	return func(c *Config) { c.Transform = t }
}

// WithEnlargePercent sets the padding for both body and face crops.
func WithEnlargePercent(p float64) Option {
	return func(c *Config) { c.EnlargePercent = p }
}

// WithCascadeOptions passes options through to the cascade.
func WithCascadeOptions(opts ...cascade.Option) Option {
	return func(c *Config) { c.CascadeOptions = append(c.CascadeOptions, opts...) }
}

// WithAggregator sets the score aggregator.
func WithAggregator(a *score.Aggregator) Option {
	return func(c *Config) { c.Aggregator = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Context holds the models for the lifetime of the process. It is created
// once and shared read-only by every inference call.
type Context struct {
	body       detection.Detector
	face       detection.Detector
	scorer     Scorer
	cascade    *cascade.Cascade
	extractor  *region.Extractor
	aggregator *score.Aggregator
	config     Config
	logger     *slog.Logger
}

// New creates a pipeline. The context owns the detectors and the scorer and
// closes them in Close.
func New(body, face detection.Detector, s Scorer, opts ...Option) (*Context, error) {
	if body == nil || face == nil || s == nil {
		return nil, errors.New("pipeline: detectors and scorer are required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("pipeline: workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Aggregator == nil {
		agg, err := score.New()
		if err != nil {
			return nil, err
		}
		cfg.Aggregator = agg
	}

	cascadeOpts := append([]cascade.Option{
		cascade.WithEnlargePercent(cfg.EnlargePercent),
		cascade.WithLogger(cfg.Logger),
	}, cfg.CascadeOptions...)

	return &Context{
		body:       body,
		face:       face,
		scorer:     s,
		cascade:    cascade.New(body, face, cascadeOpts...),
		extractor:  region.NewExtractor(cfg.Transform, cfg.EnlargePercent),
		aggregator: cfg.Aggregator,
		config:     cfg,
		logger:     cfg.Logger.With("component", "pipeline"),
	}, nil
}

// Load builds a pipeline from model files named in cfg.
func Load(cfg config.Config, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bodyCfg := detection.DefaultSegConfig(cfg.BodyModelPath, detection.BodyClass)
	bodyCfg.Logger = logger
	body, err := detection.NewSeg(bodyCfg)
	if err != nil {
		return nil, fmt.Errorf("body detector: %w", err)
	}

	faceCfg := detection.DefaultSegConfig(cfg.FaceModelPath, detection.FaceClass)
	faceCfg.Logger = logger
	face, err := detection.NewSeg(faceCfg)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("face detector: %w", err)
	}

	sc, err := scorer.Load(scorer.Paths{
		BodyEncoder: cfg.BodyEncoderPath,
		FaceEncoder: cfg.FaceEncoderPath,
		Weights:     cfg.ScorerWeightsPath,
	}, scorer.WithLogger(logger))
	if err != nil {
		body.Close()
		face.Close()
		return nil, fmt.Errorf("scorer: %w", err)
	}

	agg, err := score.New(score.WithTopK(cfg.TopK))
	if err != nil {
		body.Close()
		face.Close()
		sc.Close()
		return nil, err
	}

	logger.Info("models loaded",
		"body", cfg.BodyModelPath,
		"face", cfg.FaceModelPath,
		"scorer", cfg.ScorerWeightsPath,
		"heads", sc.HeadNames(),
	)

	return New(body, face, sc,
		WithWorkers(cfg.Workers),
		WithAggregator(agg),
		WithLogger(logger),
	)
}

// Config returns the pipeline configuration.
func (c *Context) Config() Config {
	return c.config
}

// Close releases all models.
func (c *Context) Close() error {
	return errors.Join(c.body.Close(), c.face.Close(), c.scorer.Close())
}
