package scorer

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// RegionEncoder turns a prepared region image and mask into a feature
// vector. Body and face use separate instances with their own weights.
type RegionEncoder interface {
	Encode(image, mask gocv.Mat) ([]float32, error)
	Close() error
}

// EncoderConfig holds ONNX region encoder configuration.
type EncoderConfig struct {
	ModelPath  string
	ImageInput string
	MaskInput  string
	Output     string // empty selects the network's last layer
	Logger     *slog.Logger
}

// DefaultEncoderConfig returns defaults for an encoder exported with
// inputs named "image" and "mask".
func DefaultEncoderConfig(modelPath string) EncoderConfig {
	return EncoderConfig{
		ModelPath:  modelPath,
		ImageInput: "image",
		MaskInput:  "mask",
		Logger:     slog.Default(),
	}
}

// ONNXEncoder runs a mask-guided region encoder through OpenCV DNN.
type ONNXEncoder struct {
	net    gocv.Net
	config EncoderConfig
	mu     sync.Mutex // gocv.Net is not safe for concurrent Forward
	logger *slog.Logger
}

// NewONNXEncoder loads an encoder network.
func NewONNXEncoder(cfg EncoderConfig) (*ONNXEncoder, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ONNXEncoder{
		net:    net,
		config: cfg,
		logger: logger.With("component", "scorer.encoder", "model", cfg.ModelPath),
	}, nil
}

// Encode runs one 1×3×S×S image blob and its 1×1×S×S mask blob through the
// network and returns the flattened output.
func (e *ONNXEncoder) Encode(image, mask gocv.Mat) ([]float32, error) {
	if image.Empty() || mask.Empty() {
		return nil, ErrEmptyInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.net.SetInput(image, e.config.ImageInput)
	e.net.SetInput(mask, e.config.MaskInput)
	out := e.net.Forward(e.config.Output)
	defer out.Close()

	vals, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	features := make([]float32, len(vals))
	copy(features, vals)
	e.logger.Debug("encoded region", "dim", len(features))
	return features, nil
}

// Close releases the network.
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}
