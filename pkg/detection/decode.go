package detection

import (
	"image"
	"math"
)

// boxF is a corner-format box in floating-point pixels.
type boxF struct {
	x1, y1, x2, y2 float32
}

func (b boxF) scale(sx, sy float32) boxF {
	return boxF{x1: b.x1 * sx, y1: b.y1 * sy, x2: b.x2 * sx, y2: b.y2 * sy}
}

func (b boxF) rect() image.Rectangle {
	return image.Rect(int(b.x1), int(b.y1), int(b.x2), int(b.y2))
}

// candidate is one anchor that passed the confidence filter.
type candidate struct {
	box     boxF // model input pixels
	score   float32
	classID int
	coeffs  []float32 // mask coefficients, nil without a mask branch
}

// decodePredictions reads a YOLOv8 head laid out channel-major as
// [channels][anchors]: cx, cy, w, h, numClasses class scores, then maskDim
// mask coefficients. Anchors whose best class score is below conf are
// skipped.
func decodePredictions(data []float32, anchors, numClasses, maskDim int, conf float32) []candidate {
	var out []candidate
	for i := 0; i < anchors; i++ {
		best, cls := float32(0), -1
		for c := 0; c < numClasses; c++ {
			if s := data[(4+c)*anchors+i]; s > best {
				best, cls = s, c
			}
		}
		if cls < 0 || best < conf {
			continue
		}

		cx := data[i]
		cy := data[anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		var coeffs []float32
		if maskDim > 0 {
			coeffs = make([]float32, maskDim)
			for k := range coeffs {
				coeffs[k] = data[(4+numClasses+k)*anchors+i]
			}
		}

		out = append(out, candidate{
			box:     boxF{x1: cx - w/2, y1: cy - h/2, x2: cx + w/2, y2: cy + h/2},
			score:   best,
			classID: cls,
			coeffs:  coeffs,
		})
	}
	return out
}

// assembleMask combines prototype masks ([maskDim][mh*mw]) with one
// instance's coefficients, applies a sigmoid and zeroes everything outside
// box (given in prototype pixels).
func assembleMask(coeffs, protos []float32, mh, mw int, box boxF) []float32 {
	plane := mh * mw
	out := make([]float32, plane)
	for y := 0; y < mh; y++ {
		fy := float32(y)
		if fy < box.y1 || fy >= box.y2 {
			continue
		}
		for x := 0; x < mw; x++ {
			fx := float32(x)
			if fx < box.x1 || fx >= box.x2 {
				continue
			}
			var s float32
			for k, c := range coeffs {
				s += c * protos[k*plane+y*mw+x]
			}
			out[y*mw+x] = sigmoid(s)
		}
	}
	return out
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
