// Package region turns cascade outcomes into fixed-size scorer inputs.
package region

import "gocv.io/x/gocv"

// Sample is the scorer's input unit for one region (body or face).
//
// It is either Absent, carrying no pixels at all, or Present with a
// normalized NCHW image blob (1×3×S×S) and a binary mask blob (1×1×S×S).
type Sample struct {
	present bool
	image   gocv.Mat
	mask    gocv.Mat
}

// Absent returns a sample for a region that was not detected or could not
// be cropped.
func Absent() Sample {
	return Sample{}
}

// Present wraps prepared blobs. The sample takes ownership of both Mats.
func Present(image, mask gocv.Mat) Sample {
	return Sample{present: true, image: image, mask: mask}
}

// IsPresent reports whether the sample carries a region.
func (s Sample) IsPresent() bool {
	return s.present
}

// Image returns the image blob. Only valid when IsPresent.
func (s Sample) Image() gocv.Mat {
	return s.image
}

// Mask returns the mask blob. Only valid when IsPresent.
func (s Sample) Mask() gocv.Mat {
	return s.mask
}

// Close releases the blobs of a present sample.
func (s *Sample) Close() {
	if !s.present {
		return
	}
	s.image.Close()
	s.mask.Close()
	s.present = false
}
