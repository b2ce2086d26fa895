package geometry

import (
	"image"

	"gocv.io/x/gocv"
)

// MaskThreshold is the cut-off used whenever a soft mask is binarized.
const MaskThreshold = 0.5

// Binarize converts a single-channel mask of any depth into a CV8U mask
// holding 1 where src > MaskThreshold and 0 elsewhere.
// The caller owns the returned Mat.
func Binarize(src gocv.Mat) gocv.Mat {
	f := gocv.NewMat()
	defer f.Close()
	src.ConvertTo(&f, gocv.MatTypeCV32F)

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(f, &bin, MaskThreshold, 1, gocv.ThresholdBinary)

	out := gocv.NewMat()
	bin.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}

// MaskForFrame resizes a detector's native-resolution mask to a w×h frame
// with nearest-neighbour sampling and binarizes it.
// The caller owns the returned Mat.
func MaskForFrame(mask gocv.Mat, w, h int) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mask, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationNearestNeighbor)
	return Binarize(resized)
}

// CropMask copies the part of mask covered by r. r must be valid and
// inside the mask. The caller owns the returned Mat.
func CropMask(mask gocv.Mat, r image.Rectangle) gocv.Mat {
	view := mask.Region(r)
	defer view.Close()
	return view.Clone()
}

// PasteMask places a crop-local mask into a zero parent-size canvas.
//
// The mask is resized (bilinear) to crop, binarized, and written with its
// top-left corner at origin. Whatever falls past the parent's right or
// bottom edge is dropped silently. The canvas is CV8U with values 0/1 and
// is owned by the caller.
func PasteMask(mask gocv.Mat, origin image.Point, crop image.Point, parent image.Point) gocv.Mat {
	canvas := gocv.Zeros(parent.Y, parent.X, gocv.MatTypeCV8U)
	if mask.Empty() || crop.X <= 0 || crop.Y <= 0 {
		return canvas
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mask, &resized, crop, 0, 0, gocv.InterpolationLinear)

	bin := Binarize(resized)
	defer bin.Close()

	dst := Clamp(image.Rectangle{Min: origin, Max: origin.Add(crop)}, parent.X, parent.Y)
	if !Valid(dst) {
		return canvas
	}
	src := dst.Sub(origin)

	from := bin.Region(src)
	defer from.Close()
	to := canvas.Region(dst)
	defer to.Close()
	from.CopyTo(&to)

	return canvas
}
