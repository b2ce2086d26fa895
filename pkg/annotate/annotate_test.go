package annotate

import (
	"encoding/base64"
	"image"
	"strings"
	"testing"

	"github.com/teslashibe/go-camelbeauty/pkg/pipeline"
	"github.com/teslashibe/go-camelbeauty/pkg/score"
	"gocv.io/x/gocv"
)

func testResult() *pipeline.Result {
	face := image.Rect(150, 60, 220, 130)
	return &pipeline.Result{
		BodyBox:     image.Rect(40, 40, 360, 260),
		FaceBox:     &face,
		FacePresent: true,
		Scores: score.Bundle{
			Attributes: []score.AttributeScore{
				{Name: score.Head, Score0100: 80},
				{Name: score.Neck, Score0100: 60.3},
				{Name: score.BodyLimbHump, Score0100: 40},
				{Name: score.BodySize, Score0100: 20},
			},
			Category:   score.CategoryResult{PredictedClass: 0, PredictedLabel: "Beautiful"},
			TotalScore: 64.04,
			StarRating: 3.202,
		},
	}
}

func TestLines(t *testing.T) {
	got := Lines(testResult().Scores)
	want := []string{
		"Category: Beautiful",
		"Head: 80.0/100",
		"Neck: 60.3/100",
		"Body+Hump: 40.0/100",
		"Size: 20.0/100",
		"Stars: 3.2 / 5",
		"Total: 64.0/100",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDrawBoxes(t *testing.T) {
	img := gocv.Zeros(300, 400, gocv.MatTypeCV8UC3)
	defer img.Close()

	res := testResult()
	Draw(&img, res)

	// Right edges, away from the labels and the score block.
	body := img.GetVecbAt(150, 360)
	if body[0] != 0 || body[1] != 255 || body[2] != 0 {
		t.Errorf("body edge = %v, want green", body)
	}
	face := img.GetVecbAt(100, 220)
	if face[0] != 0 || face[1] != 0 || face[2] != 255 {
		t.Errorf("face edge = %v, want red in BGR", face)
	}
}

func TestDrawNil(t *testing.T) {
	img := gocv.Zeros(10, 10, gocv.MatTypeCV8UC3)
	defer img.Close()
	Draw(&img, nil)
	if gocv.CountNonZero(img.Reshape(1, 0)) != 0 {
		t.Error("nil result should not draw")
	}
}

func TestBase64PNG(t *testing.T) {
	rgb := gocv.Zeros(300, 400, gocv.MatTypeCV8UC3)
	defer rgb.Close()

	s, err := Base64PNG(rgb, testResult())
	if err != nil {
		t.Fatalf("Base64PNG: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if !strings.HasPrefix(string(data), "\x89PNG") {
		t.Fatal("not a PNG")
	}

	out, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode: %v", err)
	}
	defer out.Close()
	if out.Cols() != 400 || out.Rows() != 300 {
		t.Errorf("decoded %dx%d, want 400x300", out.Cols(), out.Rows())
	}
	// Input was not modified.
	if gocv.CountNonZero(rgb.Reshape(1, 0)) != 0 {
		t.Error("source image was drawn on")
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := PNG(empty, testResult()); err == nil {
		t.Error("expected error for empty image")
	}
}
