package region

import (
	"errors"
	"image"

	"github.com/teslashibe/go-camelbeauty/pkg/cascade"
	"github.com/teslashibe/go-camelbeauty/pkg/detection"
	"github.com/teslashibe/go-camelbeauty/pkg/geometry"
	"gocv.io/x/gocv"
)

// ErrNoBody is returned when Extract is called on an outcome without a body.
var ErrNoBody = errors.New("region: outcome has no body")

// Extractor crops body and face regions out of an image using a cascade
// outcome and prepares them for the scorer.
type Extractor struct {
	transform      Transform
	enlargePercent float64
}

// NewExtractor creates an extractor. enlargePercent pads the face box
// inside the body crop and should match the cascade's padding.
func NewExtractor(t Transform, enlargePercent float64) *Extractor {
	return &Extractor{transform: t, enlargePercent: enlargePercent}
}

// Transform returns the transform used for samples.
func (e *Extractor) Transform() Transform {
	return e.transform
}

// Extract returns the body and face samples for an RGB image.
//
// The body crop is the outcome's enlarged body box. The face crop is taken
// from the body crop, using the face box enlarged inside the body crop's own
// frame. Degenerate crops and missing detections yield Absent samples.
// The caller must Close both samples.
func (e *Extractor) Extract(img gocv.Mat, o *cascade.Outcome) (body, face Sample, err error) {
	if o == nil || !o.BodyFound {
		return Absent(), Absent(), ErrNoBody
	}
	if !geometry.Valid(o.BodyCrop) {
		return Absent(), Absent(), nil
	}

	bodyCrop := cropImage(img, o.BodyCrop)
	defer bodyCrop.Close()

	bodyMask := e.maskFor(o.Body, img.Cols(), img.Rows(), o.BodyCrop)
	defer bodyMask.Close()

	body, err = e.transform.Sample(bodyCrop, bodyMask)
	if err != nil {
		return Absent(), Absent(), err
	}

	face, err = e.face(bodyCrop, o)
	if err != nil {
		body.Close()
		return Absent(), Absent(), err
	}
	return body, face, nil
}

func (e *Extractor) face(bodyCrop gocv.Mat, o *cascade.Outcome) (Sample, error) {
	if !o.FaceFound {
		return Absent(), nil
	}

	w, h := bodyCrop.Cols(), bodyCrop.Rows()
	box := geometry.Enlarge(o.Face.Box, w, h, e.enlargePercent)
	if !geometry.Valid(box) {
		return Absent(), nil
	}

	faceCrop := cropImage(bodyCrop, box)
	defer faceCrop.Close()

	faceMask := e.maskFor(o.Face, w, h, box)
	defer faceMask.Close()

	return e.transform.Sample(faceCrop, faceMask)
}

// maskFor scales d's mask to a w×h frame and crops it to box, or returns an
// all-zero mask of box's size when d has no mask.
func (e *Extractor) maskFor(d detection.Detection, w, h int, box image.Rectangle) gocv.Mat {
	if !d.HasMask() {
		return gocv.Zeros(box.Dy(), box.Dx(), gocv.MatTypeCV8U)
	}
	full := geometry.MaskForFrame(*d.Mask, w, h)
	defer full.Close()
	return geometry.CropMask(full, box)
}

func cropImage(img gocv.Mat, box image.Rectangle) gocv.Mat {
	view := img.Region(box)
	defer view.Close()
	return view.Clone()
}
