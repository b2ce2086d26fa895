package scorer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gocv.io/x/gocv"
)

// MockEncoder is a RegionEncoder for tests.
type MockEncoder struct {
	// EncodeFunc is called by Encode. If nil, a deterministic feature vector
	// of length Dim derived from the blob contents is returned.
	EncodeFunc func(image, mask gocv.Mat) ([]float32, error)

	// CloseFunc is called by Close.
	CloseFunc func() error

	Dim int

	mu    sync.Mutex
	calls int
}

// NewMockEncoder creates a mock that derives dim features from its input.
func NewMockEncoder(dim int) *MockEncoder {
	return &MockEncoder{Dim: dim}
}

// FailingEncoder creates a mock whose Encode always fails with err.
func FailingEncoder(err error) *MockEncoder {
	return &MockEncoder{
		EncodeFunc: func(gocv.Mat, gocv.Mat) ([]float32, error) { return nil, err },
	}
}

// Encode records the call and returns features.
func (m *MockEncoder) Encode(image, mask gocv.Mat) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.EncodeFunc != nil {
		return m.EncodeFunc(image, mask)
	}
	return contentFeatures(image, mask, m.Dim)
}

// Close implements RegionEncoder.
func (m *MockEncoder) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// CallCount returns the number of Encode calls.
func (m *MockEncoder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Reset clears recorded calls.
func (m *MockEncoder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
}

// contentFeatures mixes the blob means into a fixed pattern so different
// inputs give different features.
func contentFeatures(image, mask gocv.Mat, dim int) ([]float32, error) {
	img, err := image.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mock encoder: %w", err)
	}
	msk, err := mask.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mock encoder: %w", err)
	}
	a, b := mean32(img), mean32(msk)
	out := make([]float32, dim)
	for j := range out {
		out[j] = float32(a*math.Sin(float64(j+1)) + b*math.Cos(float64(j+1)))
	}
	return out, nil
}

func mean32(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += float64(x)
	}
	return s / float64(len(v))
}

// SyntheticWeights returns a complete, randomly initialized weight set for
// cfg with the given head sizes. The same seed always yields the same
// weights.
func SyntheticWeights(cfg Config, heads map[string]int, seed uint64) Weights {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	dim, hidden := cfg.FeatureDim, cfg.TrunkHidden

	random := func(scale float64, shape ...int) Tensor {
		data := make([]float32, numel(shape))
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * scale)
		}
		return NewTensor(data, shape...)
	}
	fill := func(v float32, n int) Tensor {
		data := make([]float32, n)
		for i := range data {
			data[i] = v
		}
		return NewTensor(data, n)
	}
	scale := 1 / math.Sqrt(float64(dim))

	w := Weights{
		"empty_body_embedding":                   random(1, dim),
		"empty_face_embedding":                   random(1, dim),
		"fusion.cross_attention.in_proj_weight":  random(scale, 3*dim, dim),
		"fusion.cross_attention.in_proj_bias":    random(0.1, 3*dim),
		"fusion.cross_attention.out_proj.weight": random(scale, dim, dim),
		"fusion.cross_attention.out_proj.bias":   random(0.1, dim),
		"fusion.norm1.weight":                    fill(1, dim),
		"fusion.norm1.bias":                      fill(0, dim),
		"fusion.ffn.0.weight":                    random(scale, 4*dim, dim),
		"fusion.ffn.0.bias":                      random(0.1, 4*dim),
		"fusion.ffn.3.weight":                    random(scale/2, dim, 4*dim),
		"fusion.ffn.3.bias":                      random(0.1, dim),
		"fusion.norm2.weight":                    fill(1, dim),
		"fusion.norm2.bias":                      fill(0, dim),
		"shared_mlp.0.weight":                    random(scale, hidden, dim),
		"shared_mlp.0.bias":                      random(0.1, hidden),
		"shared_mlp.1.weight":                    fill(1, hidden),
		"shared_mlp.1.bias":                      fill(0, hidden),
		"shared_mlp.1.running_mean":              fill(0, hidden),
		"shared_mlp.1.running_var":               fill(1, hidden),
		"shared_mlp.4.weight":                    random(1/math.Sqrt(float64(hidden)), dim, hidden),
		"shared_mlp.4.bias":                      random(0.1, dim),
		"shared_mlp.5.weight":                    fill(1, dim),
		"shared_mlp.5.bias":                      fill(0, dim),
		"shared_mlp.5.running_mean":              fill(0, dim),
		"shared_mlp.5.running_var":               fill(1, dim),
	}
	names := make([]string, 0, len(heads))
	for name := range heads {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		classes := heads[name]
		w[headPrefix+name+".weight"] = random(scale, classes, dim)
		w[headPrefix+name+".bias"] = random(0.1, classes)
	}
	return w
}
