package region

import (
	"errors"
	"image"

	"github.com/teslashibe/go-camelbeauty/pkg/geometry"
	"gocv.io/x/gocv"
)

// ErrEmptyRegion is returned when a transform receives an empty crop.
var ErrEmptyRegion = errors.New("region: empty crop")

// Transform resizes and normalizes crops into scorer input blobs.
type Transform struct {
	Size int        // square side in pixels
	Mean [3]float32 // per RGB channel, on the 0-1 scale
	Std  [3]float32
}

// DefaultTransform returns the 224px ImageNet normalization the scorer's
// encoders were trained with.
func DefaultTransform() Transform {
	return Transform{
		Size: 224,
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}
}

// Image converts an RGB CV8UC3 crop into a normalized 1×3×S×S blob.
// The caller owns the returned Mat.
func (t Transform) Image(crop gocv.Mat) (gocv.Mat, error) {
	if crop.Empty() {
		return gocv.NewMat(), ErrEmptyRegion
	}
	size := image.Pt(t.Size, t.Size)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(crop, &resized, size, 0, 0, gocv.InterpolationLinear)

	scaled := gocv.NewMat()
	defer scaled.Close()
	resized.ConvertToWithParams(&scaled, gocv.MatTypeCV32F, 1.0/255.0, 0)

	channels := gocv.Split(scaled)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	for i := range channels {
		channels[i].SubtractFloat(t.Mean[i])
		channels[i].DivideFloat(t.Std[i])
	}

	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Merge(channels, &normalized)

	return gocv.BlobFromImage(normalized, 1.0, size, gocv.NewScalar(0, 0, 0, 0), false, false), nil
}

// Mask converts a single-channel 0/1 mask into a binary 1×1×S×S float blob.
// Resizing uses nearest-neighbour sampling so the mask stays binary.
func (t Transform) Mask(mask gocv.Mat) (gocv.Mat, error) {
	if mask.Empty() {
		return gocv.NewMat(), ErrEmptyRegion
	}
	size := image.Pt(t.Size, t.Size)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mask, &resized, size, 0, 0, gocv.InterpolationNearestNeighbor)

	bin := geometry.Binarize(resized)
	defer bin.Close()

	f := gocv.NewMat()
	defer f.Close()
	bin.ConvertTo(&f, gocv.MatTypeCV32F)

	return gocv.BlobFromImage(f, 1.0, size, gocv.NewScalar(0, 0, 0, 0), false, false), nil
}

// Sample builds a present Sample from a crop and its mask.
func (t Transform) Sample(crop, mask gocv.Mat) (Sample, error) {
	img, err := t.Image(crop)
	if err != nil {
		img.Close()
		return Absent(), err
	}
	m, err := t.Mask(mask)
	if err != nil {
		img.Close()
		m.Close()
		return Absent(), err
	}
	return Present(img, m), nil
}
