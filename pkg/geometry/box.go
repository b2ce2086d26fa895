// Package geometry provides bounding-box arithmetic and mask transforms
// between a cropped sub-image and its parent frame.
//
// Boxes are image.Rectangle values: Min is (x_min, y_min) and Max is
// (x_max, y_max), both in pixels of the frame they were produced in.
package geometry

import "image"

// Valid reports whether r has positive width and height.
func Valid(r image.Rectangle) bool {
	return r.Max.X > r.Min.X && r.Max.Y > r.Min.Y
}

// Clamp limits every coordinate of r to [0,w]×[0,h].
// Unlike image.Rectangle.Intersect it never canonicalizes, so a box that
// lies outside the frame comes back degenerate rather than empty-at-origin.
func Clamp(r image.Rectangle, w, h int) image.Rectangle {
	return image.Rectangle{
		Min: image.Pt(clampInt(r.Min.X, 0, w), clampInt(r.Min.Y, 0, h)),
		Max: image.Pt(clampInt(r.Max.X, 0, w), clampInt(r.Max.Y, 0, h)),
	}
}

// Enlarge pads r by pct of its own width and height, half on each side,
// then clamps the result to a w×h frame. Coordinates are truncated toward
// zero. The result may be degenerate; check it with Valid before cropping.
func Enlarge(r image.Rectangle, w, h int, pct float64) image.Rectangle {
	padX := float64(r.Dx()) * pct / 2
	padY := float64(r.Dy()) * pct / 2

	out := image.Rectangle{
		Min: image.Pt(int(float64(r.Min.X)-padX), int(float64(r.Min.Y)-padY)),
		Max: image.Pt(int(float64(r.Max.X)+padX), int(float64(r.Max.Y)+padY)),
	}
	return Clamp(out, w, h)
}

// ToParent translates a box from a crop's frame into its parent's frame.
func ToParent(r image.Rectangle, origin image.Point) image.Rectangle {
	return r.Add(origin)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
