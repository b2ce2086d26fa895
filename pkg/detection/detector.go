// Package detection provides instance-segmentation detectors for camel
// bodies and faces.
package detection

import (
	"image"

	"github.com/teslashibe/go-camelbeauty/pkg/geometry"
	"gocv.io/x/gocv"
)

// Class labels emitted by the camel segmentation models.
const (
	BodyClass = "Body_seg"
	FaceClass = "Face_seg"
)

// Detection is one detected instance in the frame the detector was run on.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64         // 0-1
	Box        image.Rectangle // pixels, detector input frame

	// Mask is a soft instance mask covering the whole input frame at the
	// model's native mask resolution (CV32F, 0-1). Nil when the model has
	// no mask branch.
	Mask *gocv.Mat
}

// HasMask reports whether the detection carries an instance mask.
func (d Detection) HasMask() bool {
	return d.Mask != nil && !d.Mask.Empty()
}

// Close releases the mask.
func (d *Detection) Close() {
	if d.Mask != nil {
		d.Mask.Close()
		d.Mask = nil
	}
}

// Detector is the interface for segmentation backends.
type Detector interface {
	// Detect finds instances in img whose confidence is at least conf,
	// suppressing overlaps above iou. Result order is backend-defined.
	Detect(img gocv.Mat, conf, iou float32) ([]Detection, error)

	// Close releases resources
	Close() error
}

// CloseAll releases the masks of every detection in dets.
func CloseAll(dets []Detection) {
	for i := range dets {
		dets[i].Close()
	}
}

// SelectBest returns the index of the highest-confidence detection, or -1
// for an empty slice. On equal confidence the earlier detection wins.
func SelectBest(dets []Detection) int {
	best := -1
	for i := range dets {
		if best < 0 || dets[i].Confidence > dets[best].Confidence {
			best = i
		}
	}
	return best
}

// FilterClass keeps detections labelled className. Dropped detections are
// closed, so the input slice must not be used afterwards.
func FilterClass(dets []Detection, className string) []Detection {
	kept := dets[:0]
	for i := range dets {
		if dets[i].ClassName == className {
			kept = append(kept, dets[i])
			continue
		}
		dets[i].Close()
	}
	return kept
}

// Take returns dets[idx] and closes every other detection.
func Take(dets []Detection, idx int) Detection {
	for i := range dets {
		if i != idx {
			dets[i].Close()
		}
	}
	return dets[idx]
}

// ProjectToParent converts detections produced on a crop into the parent
// frame. crop is the crop's pixel size and origin its top-left corner in
// the parent. Boxes are translated; masks are resized to the crop size,
// binarized and pasted into a parent-sized canvas, clipping anything that
// overflows the parent. The inputs are left untouched; the caller owns the
// returned masks.
func ProjectToParent(dets []Detection, origin, crop, parent image.Point) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		p := Detection{
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			Box:        geometry.ToParent(d.Box, origin),
		}
		if d.HasMask() {
			m := geometry.PasteMask(*d.Mask, origin, crop, parent)
			p.Mask = &m
		}
		out = append(out, p)
	}
	return out
}
