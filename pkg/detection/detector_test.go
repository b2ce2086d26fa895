package detection

import (
	"errors"
	"image"
	"testing"

	"gocv.io/x/gocv"
)

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name  string
		confs []float64
		want  int
	}{
		{"empty", nil, -1},
		{"single", []float64{0.3}, 0},
		{"highest wins", []float64{0.6, 0.9, 0.7}, 1},
		{"tie keeps first", []float64{0.8, 0.9, 0.9}, 1},
		{"all equal", []float64{0.5, 0.5, 0.5}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dets := make([]Detection, len(tc.confs))
			for i, c := range tc.confs {
				dets[i].Confidence = c
			}
			if got := SelectBest(dets); got != tc.want {
				t.Errorf("SelectBest = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFilterClass(t *testing.T) {
	dets := []Detection{
		{ClassName: BodyClass, Confidence: 0.9},
		{ClassName: "background", Confidence: 0.95},
		{ClassName: BodyClass, Confidence: 0.6},
	}

	got := FilterClass(dets, BodyClass)
	if len(got) != 2 {
		t.Fatalf("kept %d detections, want 2", len(got))
	}
	for _, d := range got {
		if d.ClassName != BodyClass {
			t.Errorf("unexpected class %q", d.ClassName)
		}
	}
	if got[0].Confidence != 0.9 || got[1].Confidence != 0.6 {
		t.Error("FilterClass must preserve order")
	}
}

func TestFilterClassClosesDropped(t *testing.T) {
	m := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32F)
	dets := []Detection{
		{ClassName: "other", Mask: &m},
		{ClassName: FaceClass},
	}

	got := FilterClass(dets, FaceClass)
	if len(got) != 1 {
		t.Fatalf("kept %d, want 1", len(got))
	}
	if m.Ptr() != nil {
		t.Error("mask of dropped detection should be released")
	}
}

func TestTake(t *testing.T) {
	a := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32F)
	b := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32F)
	dets := []Detection{{Mask: &a, Confidence: 0.4}, {Mask: &b, Confidence: 0.8}}

	got := Take(dets, 1)
	defer got.Close()

	if got.Confidence != 0.8 || !got.HasMask() {
		t.Errorf("Take returned %+v", got)
	}
	if a.Ptr() != nil {
		t.Error("unselected mask should be released")
	}
}

func TestProjectToParent(t *testing.T) {
	local := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV32F)
	local.SetTo(gocv.NewScalar(1, 0, 0, 0))
	defer local.Close()

	in := []Detection{{
		ClassName:  FaceClass,
		Confidence: 0.7,
		Box:        image.Rect(5, 6, 15, 20),
		Mask:       &local,
	}}

	origin := image.Pt(40, 30)
	crop := image.Pt(20, 25)
	parent := image.Pt(200, 100)

	out := ProjectToParent(in, origin, crop, parent)
	defer CloseAll(out)

	if len(out) != 1 {
		t.Fatalf("got %d detections", len(out))
	}
	p := out[0]
	if want := image.Rect(45, 36, 55, 50); p.Box != want {
		t.Errorf("Box = %v, want %v", p.Box, want)
	}
	if p.ClassName != FaceClass || p.Confidence != 0.7 {
		t.Errorf("metadata not preserved: %+v", p)
	}
	if !p.HasMask() {
		t.Fatal("projected mask missing")
	}
	if p.Mask.Cols() != 200 || p.Mask.Rows() != 100 {
		t.Errorf("mask size = %dx%d, want 200x100", p.Mask.Cols(), p.Mask.Rows())
	}
	if p.Mask.GetUCharAt(30, 40) != 1 || p.Mask.GetUCharAt(54, 59) != 1 {
		t.Error("crop area should be set in parent mask")
	}
	if p.Mask.GetUCharAt(29, 40) != 0 || p.Mask.GetUCharAt(30, 60) != 0 {
		t.Error("outside crop area should be clear")
	}
	if in[0].Mask.Cols() != 10 {
		t.Error("input mask must not be modified")
	}
}

func TestProjectToParentWithoutMask(t *testing.T) {
	out := ProjectToParent([]Detection{{Box: image.Rect(0, 0, 4, 4)}}, image.Pt(1, 1), image.Pt(4, 4), image.Pt(10, 10))
	if out[0].HasMask() {
		t.Error("no mask expected")
	}
	if want := image.Rect(1, 1, 5, 5); out[0].Box != want {
		t.Errorf("Box = %v, want %v", out[0].Box, want)
	}
}

func TestMock(t *testing.T) {
	m := NewMock(Detection{ClassName: BodyClass, Confidence: 0.9})
	img := gocv.NewMatWithSize(20, 30, gocv.MatTypeCV8UC3)
	defer img.Close()

	dets, err := m.Detect(img, 0.5, 0.45)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 {
		t.Errorf("got %d detections", len(dets))
	}

	calls := m.Calls()
	if len(calls) != 1 || calls[0].Width != 30 || calls[0].Height != 20 || calls[0].Conf != 0.5 {
		t.Errorf("calls = %+v", calls)
	}

	m.Reset()
	if m.CallCount() != 0 {
		t.Error("expected 0 calls after reset")
	}

	boom := errors.New("boom")
	if _, err := WithError(boom).Detect(img, 0.5, 0.5); !errors.Is(err, boom) {
		t.Errorf("WithError: got %v", err)
	}
}
