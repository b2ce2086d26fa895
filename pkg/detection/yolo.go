package detection

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/teslashibe/go-camelbeauty/pkg/geometry"
	"gocv.io/x/gocv"
)

// SegConfig holds YOLOv8-seg detector configuration
type SegConfig struct {
	ModelPath   string
	ClassNames  []string // index = class ID
	InputWidth  int
	InputHeight int

	// OutputNames are the prediction and prototype layers, in that order.
	// A single name disables masks.
	OutputNames []string

	// SwapRB swaps the first and last channel when building the input blob.
	// The camel models were validated on RGB frames fed as BGR.
	SwapRB bool

	Logger *slog.Logger
}

// DefaultSegConfig returns production defaults for a YOLOv8-seg ONNX export.
func DefaultSegConfig(modelPath string, classNames ...string) SegConfig {
	return SegConfig{
		ModelPath:   modelPath,
		ClassNames:  classNames,
		InputWidth:  640,
		InputHeight: 640,
		OutputNames: []string{"output0", "output1"},
		SwapRB:      true,
		Logger:      slog.Default(),
	}
}

// SegDetector runs a YOLOv8 instance-segmentation model through OpenCV DNN.
type SegDetector struct {
	net       gocv.Net
	config    SegConfig
	mu        sync.Mutex // gocv.Net is not safe for concurrent Forward
	inputSize image.Point
	logger    *slog.Logger
}

// NewSeg loads a YOLOv8-seg ONNX model.
func NewSeg(cfg SegConfig) (*SegDetector, error) {
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

	return &SegDetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    logger.With("component", "detection.seg", "model", cfg.ModelPath),
	}, nil
}

// Detect runs the model on an RGB image and returns detections in img's
// pixel frame, in NMS order.
func (d *SegDetector) Detect(img gocv.Mat, conf, iou float32) ([]Detection, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), d.config.SwapRB, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outs := d.net.ForwardLayers(d.config.OutputNames)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	if len(outs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrUnexpectedOutput)
	}

	// Predictions: [1, 4+classes+maskDim, anchors]
	predShape := outs[0].Size()
	if len(predShape) != 3 {
		return nil, fmt.Errorf("%w: prediction shape %v", ErrUnexpectedOutput, predShape)
	}
	preds, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	channels, anchors := predShape[1], predShape[2]

	// Prototypes: [1, maskDim, mh, mw]
	var protos []float32
	var maskDim, mh, mw int
	if len(outs) > 1 {
		protoShape := outs[1].Size()
		if len(protoShape) != 4 {
			return nil, fmt.Errorf("%w: prototype shape %v", ErrUnexpectedOutput, protoShape)
		}
		maskDim, mh, mw = protoShape[1], protoShape[2], protoShape[3]
		if protos, err = outs[1].DataPtrFloat32(); err != nil {
			return nil, fmt.Errorf("read prototypes: %w", err)
		}
	}

	numClasses := channels - 4 - maskDim
	if numClasses < 1 {
		return nil, fmt.Errorf("%w: %d channels with %d mask coefficients", ErrUnexpectedOutput, channels, maskDim)
	}

	cands := decodePredictions(preds, anchors, numClasses, maskDim, conf)
	if len(cands) == 0 {
		return nil, nil
	}

	sx := float32(img.Cols()) / float32(d.config.InputWidth)
	sy := float32(img.Rows()) / float32(d.config.InputHeight)

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box.scale(sx, sy).rect()
		scores[i] = c.score
	}

	keep := gocv.NMSBoxes(boxes, scores, conf, iou)

	dets := make([]Detection, 0, len(keep))
	for _, k := range keep {
		c := cands[k]
		det := Detection{
			ClassID:    c.classID,
			ClassName:  d.className(c.classID),
			Confidence: float64(c.score),
			Box:        geometry.Clamp(boxes[k], img.Cols(), img.Rows()),
		}
		if maskDim > 0 {
			protoBox := c.box.scale(float32(mw)/float32(d.config.InputWidth), float32(mh)/float32(d.config.InputHeight))
			vals := assembleMask(c.coeffs, protos, mh, mw, protoBox)
			m := gocv.NewMatWithSize(mh, mw, gocv.MatTypeCV32F)
			buf, err := m.DataPtrFloat32()
			if err != nil {
				m.Close()
				CloseAll(dets)
				return nil, fmt.Errorf("write mask: %w", err)
			}
			copy(buf, vals)
			det.Mask = &m
		}
		dets = append(dets, det)
	}

	d.logger.Debug("detections", "count", len(dets), "candidates", len(cands))
	return dets, nil
}

func (d *SegDetector) className(id int) string {
	if id >= 0 && id < len(d.config.ClassNames) {
		return d.config.ClassNames[id]
	}
	return strconv.Itoa(id)
}

// Close releases the detector resources
func (d *SegDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
