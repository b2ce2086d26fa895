// Package annotate draws detection boxes and scores onto result images.
package annotate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/teslashibe/go-camelbeauty/pkg/pipeline"
	"github.com/teslashibe/go-camelbeauty/pkg/score"
	"gocv.io/x/gocv"
)

var (
	bodyColor    = color.RGBA{0, 255, 0, 0}
	faceColor    = color.RGBA{255, 0, 0, 0}
	textColor    = color.RGBA{255, 255, 255, 0}
	outlineColor = color.RGBA{0, 0, 0, 0}
)

var shortNames = map[string]string{
	score.Head:         "Head",
	score.Neck:         "Neck",
	score.BodyLimbHump: "Body+Hump",
	score.BodySize:     "Size",
}

// Draw overlays the result on a BGR image in place: labelled body and face
// boxes plus a score block in the bottom-left corner, sized to the image
// height.
func Draw(img *gocv.Mat, res *pipeline.Result) {
	if res == nil {
		return
	}

	drawBox(img, res.BodyBox, "Body", bodyColor)
	if res.FaceBox != nil {
		drawBox(img, *res.FaceBox, "Face", faceColor)
	}

	h := img.Rows()
	fontScale := min(1.5, max(0.5, float64(h)/600))
	thickness := max(1, int(fontScale*2))
	margin := int(0.035 * float64(h))
	lineGap := int(40 * fontScale)

	y := h - margin
	for _, text := range Lines(res.Scores) {
		org := image.Pt(margin, y)
		gocv.PutTextWithParams(img, text, org.Add(image.Pt(1, 1)), gocv.FontHersheySimplex, fontScale, outlineColor, thickness+1, gocv.LineAA, false)
		gocv.PutTextWithParams(img, text, org, gocv.FontHersheySimplex, fontScale, textColor, thickness, gocv.LineAA, false)
		y -= lineGap
	}
}

// Lines returns the score block text, bottom line first.
func Lines(b score.Bundle) []string {
	lines := []string{"Category: " + b.Category.PredictedLabel}
	for _, name := range score.Attributes {
		a, ok := b.Attribute(name)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %.1f/100", shortNames[name], a.Score0100))
	}
	lines = append(lines,
		fmt.Sprintf("Stars: %.1f / 5", b.StarRating),
		fmt.Sprintf("Total: %.1f/100", b.TotalScore),
	)
	return lines
}

func drawBox(img *gocv.Mat, r image.Rectangle, label string, c color.RGBA) {
	gocv.Rectangle(img, r, c, 2)
	gocv.PutText(img, label, image.Pt(r.Min.X, max(0, r.Min.Y-10)), gocv.FontHersheySimplex, 0.7, c, 2)
}

// PNG renders the result onto a copy of an RGB image and returns PNG bytes.
func PNG(rgb gocv.Mat, res *pipeline.Result) ([]byte, error) {
	if rgb.Empty() {
		return nil, errors.New("annotate: empty image")
	}
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	Draw(&bgr, res)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, bgr)
	if err != nil {
		return nil, fmt.Errorf("annotate: encode: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Base64PNG is PNG encoded as standard base64, as returned by the HTTP API.
func Base64PNG(rgb gocv.Mat, res *pipeline.Result) (string, error) {
	data, err := PNG(rgb, res)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
