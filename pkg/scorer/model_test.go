package scorer

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/teslashibe/go-camelbeauty/pkg/region"
	"gocv.io/x/gocv"
)

var testHeads = map[string]int{
	"head_beauty_score": 10,
	"neck_beauty_score": 10,
	"category_encoded":  2,
}

func smallConfig() Config {
	return Config{FeatureDim: 16, Heads: 4, TrunkHidden: 32}
}

func smallOptions() []Option {
	c := smallConfig()
	return []Option{WithFeatureDim(c.FeatureDim), WithAttentionHeads(c.Heads), WithTrunkHidden(c.TrunkHidden)}
}

func newTestModel(t *testing.T, body, face RegionEncoder) *Model {
	t.Helper()
	m, err := NewModel(body, face, SyntheticWeights(smallConfig(), testHeads, 7), smallOptions()...)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

// presentSample builds a sample whose blobs are filled with v.
func presentSample(v float64) region.Sample {
	img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32F)
	img.SetTo(gocv.NewScalar(v, 0, 0, 0))
	mask := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32F)
	mask.SetTo(gocv.NewScalar(1, 0, 0, 0))
	return region.Present(img, mask)
}

func logitsClose(a, b Logits, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for name, va := range a {
		vb, ok := b[name]
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if math.Abs(va[i]-vb[i]) > tol {
				return false
			}
		}
	}
	return true
}

func TestNewModelHeads(t *testing.T) {
	m := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))

	names := m.HeadNames()
	want := []string{"category_encoded", "head_beauty_score", "neck_beauty_score"}
	if len(names) != len(want) {
		t.Fatalf("HeadNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("HeadNames[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	if got := m.HeadClasses("category_encoded"); got != 2 {
		t.Errorf("category classes = %d, want 2", got)
	}
	if got := m.HeadClasses("nope"); got != 0 {
		t.Errorf("unknown head classes = %d, want 0", got)
	}
}

func TestScoreOutputShape(t *testing.T) {
	m := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))
	body := presentSample(0.3)
	defer body.Close()

	out, err := m.ScoreOne(body, region.Absent())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	for name, classes := range testHeads {
		if len(out[name]) != classes {
			t.Errorf("%s has %d logits, want %d", name, len(out[name]), classes)
		}
		for _, v := range out[name] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%s logit %v is not finite", name, v)
			}
		}
	}
}

func TestScoreSkipsEncoderForAbsent(t *testing.T) {
	bodyEnc := NewMockEncoder(16)
	faceEnc := NewMockEncoder(16)
	m := newTestModel(t, bodyEnc, faceEnc)

	body := presentSample(0.5)
	defer body.Close()

	if _, err := m.ScoreOne(body, region.Absent()); err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if bodyEnc.CallCount() != 1 {
		t.Errorf("body encoder calls = %d, want 1", bodyEnc.CallCount())
	}
	if faceEnc.CallCount() != 0 {
		t.Errorf("face encoder must not run for an absent face, got %d calls", faceEnc.CallCount())
	}
}

func TestAbsentEmbeddingIsContentIndependent(t *testing.T) {
	// The face encoder would fail if called; an absent face never reaches it.
	m1 := newTestModel(t, NewMockEncoder(16), FailingEncoder(errors.New("boom")))
	m2 := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))

	body := presentSample(0.25)
	defer body.Close()

	a, err := m1.ScoreOne(body, region.Absent())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	b, err := m2.ScoreOne(body, region.Absent())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if !logitsClose(a, b, 0) {
		t.Error("absent face contribution differs between models with different face encoders")
	}
}

func TestScoreBatchMatchesSingle(t *testing.T) {
	m := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))

	bodies := []region.Sample{presentSample(0.1), region.Absent(), presentSample(0.9)}
	faces := []region.Sample{region.Absent(), presentSample(0.4), presentSample(0.6)}
	defer func() {
		for i := range bodies {
			bodies[i].Close()
			faces[i].Close()
		}
	}()

	batch, err := m.Score(bodies, faces)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("got %d results, want 3", len(batch))
	}
	for i := range bodies {
		single, err := m.ScoreOne(bodies[i], faces[i])
		if err != nil {
			t.Fatalf("ScoreOne(%d): %v", i, err)
		}
		if !logitsClose(batch[i], single, 1e-9) {
			t.Errorf("batch[%d] differs from single scoring", i)
		}
	}
	if logitsClose(batch[0], batch[2], 1e-9) {
		t.Error("different inputs should give different logits")
	}
}

func TestScoreDeterministic(t *testing.T) {
	m := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))
	body := presentSample(0.7)
	face := presentSample(0.2)
	defer body.Close()
	defer face.Close()

	first, err := m.ScoreOne(body, face)
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := m.ScoreOne(body, face)
		if err != nil {
			t.Fatalf("ScoreOne: %v", err)
		}
		if !logitsClose(first, again, 0) {
			t.Fatal("repeated scoring differs")
		}
	}
}

func TestScoreErrors(t *testing.T) {
	t.Run("batch mismatch", func(t *testing.T) {
		m := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))
		_, err := m.Score([]region.Sample{region.Absent()}, nil)
		if !errors.Is(err, ErrBatchMismatch) {
			t.Errorf("expected ErrBatchMismatch, got %v", err)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		m := newTestModel(t, NewMockEncoder(16), NewMockEncoder(16))
		out, err := m.Score(nil, nil)
		if err != nil || out != nil {
			t.Errorf("Score(nil, nil) = %v, %v", out, err)
		}
	})

	t.Run("wrong feature dim", func(t *testing.T) {
		m := newTestModel(t, NewMockEncoder(15), NewMockEncoder(16))
		body := presentSample(0.5)
		defer body.Close()
		_, err := m.ScoreOne(body, region.Absent())
		if !errors.Is(err, ErrFeatureDim) {
			t.Errorf("expected ErrFeatureDim, got %v", err)
		}
	})

	t.Run("encoder failure", func(t *testing.T) {
		cause := errors.New("net failed")
		m := newTestModel(t, NewMockEncoder(16), FailingEncoder(cause))
		face := presentSample(0.5)
		defer face.Close()
		_, err := m.ScoreOne(region.Absent(), face)
		if !errors.Is(err, cause) {
			t.Fatalf("expected wrapped cause, got %v", err)
		}
		var encErr *EncodeError
		if !errors.As(err, &encErr) || encErr.Region != "face" || encErr.Index != 0 {
			t.Errorf("expected face EncodeError, got %#v", err)
		}
	})
}

func TestNewModelErrors(t *testing.T) {
	enc := NewMockEncoder(16)

	tests := []struct {
		name   string
		mutate func(Weights)
		want   error
	}{
		{"missing absent embedding", func(w Weights) { delete(w, "empty_face_embedding") }, ErrMissingWeight},
		{"missing trunk", func(w Weights) { delete(w, "shared_mlp.5.running_var") }, ErrMissingWeight},
		{"bad attention shape", func(w Weights) {
			w["fusion.cross_attention.in_proj_weight"] = NewTensor(make([]float32, 16*16), 16, 16)
		}, ErrWeightShape},
		{"no heads", func(w Weights) {
			for name := range testHeads {
				delete(w, headPrefix+name+".weight")
				delete(w, headPrefix+name+".bias")
			}
		}, ErrNoHeads},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := SyntheticWeights(smallConfig(), testHeads, 1)
			tt.mutate(w)
			_, err := NewModel(enc, enc, w, smallOptions()...)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := NewModel(nil, enc, SyntheticWeights(smallConfig(), testHeads, 1), smallOptions()...); err == nil {
		t.Error("expected error for nil encoder")
	}
	if _, err := NewModel(enc, enc, SyntheticWeights(smallConfig(), testHeads, 1), WithFeatureDim(16), WithAttentionHeads(5)); err == nil {
		t.Error("expected error for heads not dividing feature dim")
	}
}

func TestModelClose(t *testing.T) {
	closed := 0
	enc := &MockEncoder{Dim: 16, CloseFunc: func() error { closed++; return nil }}
	m := newTestModel(t, enc, enc)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed != 2 {
		t.Errorf("encoder closes = %d, want 2", closed)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	_, err := Load(Paths{BodyEncoder: "nope.onnx", FaceEncoder: "nope.onnx", Weights: "nope.safetensors"})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestWeightsFileRoundTrip(t *testing.T) {
	w := SyntheticWeights(smallConfig(), testHeads, 3)

	var buf bytes.Buffer
	if err := WriteWeights(&buf, w); err != nil {
		t.Fatalf("WriteWeights: %v", err)
	}
	got, err := ReadWeights(&buf)
	if err != nil {
		t.Fatalf("ReadWeights: %v", err)
	}

	enc := NewMockEncoder(16)
	a, err := NewModel(enc, enc, w, smallOptions()...)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	b, err := NewModel(enc, enc, got, smallOptions()...)
	if err != nil {
		t.Fatalf("NewModel from file: %v", err)
	}

	body := presentSample(0.4)
	defer body.Close()
	la, _ := a.ScoreOne(body, region.Absent())
	lb, _ := b.ScoreOne(body, region.Absent())
	if !logitsClose(la, lb, 0) {
		t.Error("model from decoded weights scores differently")
	}
}
