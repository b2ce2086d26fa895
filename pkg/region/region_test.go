package region

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/teslashibe/go-camelbeauty/pkg/cascade"
	"github.com/teslashibe/go-camelbeauty/pkg/detection"
	"gocv.io/x/gocv"
)

func solidRGB(w, h int, r, g, b uint8) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(float64(r), float64(g), float64(b), 0))
	return m
}

func blobValues(t *testing.T, m gocv.Mat) []float32 {
	t.Helper()
	v, err := m.DataPtrFloat32()
	if err != nil {
		t.Fatalf("DataPtrFloat32: %v", err)
	}
	return v
}

func TestAbsentSample(t *testing.T) {
	s := Absent()
	if s.IsPresent() {
		t.Error("Absent() must not be present")
	}
	s.Close() // no-op
}

func TestTransformImage(t *testing.T) {
	tr := DefaultTransform()
	crop := solidRGB(50, 30, 255, 0, 128)
	defer crop.Close()

	blob, err := tr.Image(crop)
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	defer blob.Close()

	if got := blob.Size(); len(got) != 4 || got[0] != 1 || got[1] != 3 || got[2] != 224 || got[3] != 224 {
		t.Fatalf("blob shape = %v, want [1 3 224 224]", got)
	}

	vals := blobValues(t, blob)
	plane := 224 * 224
	want := []float32{
		(1 - 0.485) / 0.229,
		(0 - 0.456) / 0.224,
		(128.0/255.0 - 0.406) / 0.225,
	}
	for c, w := range want {
		got := vals[c*plane+plane/2]
		if math.Abs(float64(got-w)) > 1e-4 {
			t.Errorf("channel %d = %f, want %f", c, got, w)
		}
	}
}

func TestTransformMask(t *testing.T) {
	tr := DefaultTransform()
	mask := gocv.Zeros(20, 20, gocv.MatTypeCV8U)
	defer mask.Close()
	for r := 0; r < 20; r++ {
		for c := 0; c < 10; c++ {
			mask.SetUCharAt(r, c, 1)
		}
	}

	blob, err := tr.Mask(mask)
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	defer blob.Close()

	if got := blob.Size(); len(got) != 4 || got[1] != 1 || got[2] != 224 {
		t.Fatalf("blob shape = %v, want [1 1 224 224]", got)
	}

	ones := 0
	for _, v := range blobValues(t, blob) {
		switch v {
		case 1:
			ones++
		case 0:
		default:
			t.Fatalf("mask value %f is not binary", v)
		}
	}
	if ones != 224*112 {
		t.Errorf("ones = %d, want %d", ones, 224*112)
	}
}

func TestTransformEmpty(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	s, err := DefaultTransform().Sample(empty, empty)
	if !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("expected ErrEmptyRegion, got %v", err)
	}
	if s.IsPresent() {
		t.Error("failed sample must be absent")
	}
}

func TestExtractBodyOnly(t *testing.T) {
	img := solidRGB(200, 100, 10, 20, 30)
	defer img.Close()

	o := &cascade.Outcome{
		BodyFound: true,
		Body:      detection.Detection{ClassName: detection.BodyClass, Box: image.Rect(20, 10, 120, 90)},
		BodyCrop:  image.Rect(17, 8, 122, 92),
	}

	body, face, err := NewExtractor(DefaultTransform(), 0.05).Extract(img, o)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	defer body.Close()
	defer face.Close()

	if !body.IsPresent() {
		t.Error("body should be present")
	}
	if face.IsPresent() {
		t.Error("face should be absent without a face detection")
	}

	// No body mask: the mask blob is all zero.
	for _, v := range blobValues(t, body.Mask()) {
		if v != 0 {
			t.Fatal("mask should be zero when the detector gave no mask")
		}
	}
}

func TestExtractWithMasks(t *testing.T) {
	img := solidRGB(200, 100, 200, 100, 50)
	defer img.Close()

	// Native body mask at 20x10 covering the whole frame.
	bm := gocv.NewMatWithSize(10, 20, gocv.MatTypeCV32F)
	bm.SetTo(gocv.NewScalar(0.9, 0, 0, 0))
	// Native face mask over the body crop, all below threshold.
	fm := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32F)
	fm.SetTo(gocv.NewScalar(0.3, 0, 0, 0))

	o := &cascade.Outcome{
		BodyFound: true,
		Body:      detection.Detection{ClassName: detection.BodyClass, Box: image.Rect(0, 0, 200, 100), Mask: &bm},
		BodyCrop:  image.Rect(0, 0, 200, 100),
		FaceFound: true,
		Face:      detection.Detection{ClassName: detection.FaceClass, Box: image.Rect(150, 10, 190, 50), Mask: &fm},
	}
	defer o.Close()

	body, face, err := NewExtractor(DefaultTransform(), 0.05).Extract(img, o)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	defer body.Close()
	defer face.Close()

	if !body.IsPresent() || !face.IsPresent() {
		t.Fatalf("present = body %v face %v, want both", body.IsPresent(), face.IsPresent())
	}
	for _, v := range blobValues(t, body.Mask()) {
		if v != 1 {
			t.Fatal("body mask should be fully set")
		}
	}
	for _, v := range blobValues(t, face.Mask()) {
		if v != 0 {
			t.Fatal("sub-threshold face mask should be clear")
		}
	}
}

func TestExtractDegenerateFace(t *testing.T) {
	img := solidRGB(100, 100, 1, 2, 3)
	defer img.Close()

	o := &cascade.Outcome{
		BodyFound: true,
		Body:      detection.Detection{Box: image.Rect(10, 10, 90, 90)},
		BodyCrop:  image.Rect(8, 8, 92, 92),
		FaceFound: true,
		// Zero-width face on the crop's right edge.
		Face: detection.Detection{Box: image.Rect(84, 10, 84, 30)},
	}

	body, face, err := NewExtractor(DefaultTransform(), 0.05).Extract(img, o)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	defer body.Close()
	defer face.Close()

	if !body.IsPresent() {
		t.Error("body should be present")
	}
	if face.IsPresent() {
		t.Error("zero-area face crop must yield an absent face")
	}
}

func TestExtractDegenerateBody(t *testing.T) {
	img := solidRGB(100, 100, 1, 2, 3)
	defer img.Close()

	o := &cascade.Outcome{
		BodyFound: true,
		BodyCrop:  image.Rectangle{Min: image.Pt(100, 10), Max: image.Pt(100, 40)},
	}

	body, face, err := NewExtractor(DefaultTransform(), 0.05).Extract(img, o)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if body.IsPresent() || face.IsPresent() {
		t.Error("zero-area body crop must yield absent samples")
	}
}

func TestExtractNoBody(t *testing.T) {
	img := solidRGB(10, 10, 0, 0, 0)
	defer img.Close()
	if _, _, err := NewExtractor(DefaultTransform(), 0.05).Extract(img, &cascade.Outcome{}); !errors.Is(err, ErrNoBody) {
		t.Errorf("expected ErrNoBody, got %v", err)
	}
}
