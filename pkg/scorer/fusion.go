package scorer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// attention is multi-head self-attention with a packed [3d, d] input
// projection (in_proj_weight, in_proj_bias) and an out_proj layer.
type attention struct {
	heads  int
	dim    int
	q      *linear
	k      *linear
	v      *linear
	output *linear
}

func loadAttention(l tensorLoader, prefix string, dim, heads int) (*attention, error) {
	if heads < 1 || dim%heads != 0 {
		return nil, fmt.Errorf("scorer: %d heads do not divide feature dim %d", heads, dim)
	}
	w, err := l.dense(prefix+".in_proj_weight", 3*dim, dim)
	if err != nil {
		return nil, err
	}
	b, err := l.vec(prefix+".in_proj_bias", 3*dim)
	if err != nil {
		return nil, err
	}
	out, err := loadLinear(l, prefix+".out_proj", dim, dim)
	if err != nil {
		return nil, err
	}

	split := func(i int) *linear {
		return &linear{
			weight: mat.DenseCopyOf(w.Slice(i*dim, (i+1)*dim, 0, dim)),
			bias:   mat.VecDenseCopyOf(b.SliceVec(i*dim, (i+1)*dim)),
		}
	}
	return &attention{heads: heads, dim: dim, q: split(0), k: split(1), v: split(2), output: out}, nil
}

// forward attends over the rows of seq (L×dim) and returns L×dim.
func (a *attention) forward(seq *mat.Dense) *mat.Dense {
	q := a.q.forward(seq)
	k := a.k.forward(seq)
	v := a.v.forward(seq)

	length, _ := seq.Dims()
	headDim := a.dim / a.heads
	scale := 1 / math.Sqrt(float64(headDim))
	concat := mat.NewDense(length, a.dim, nil)

	for h := 0; h < a.heads; h++ {
		lo, hi := h*headDim, (h+1)*headDim
		qh := q.Slice(0, length, lo, hi)
		kh := k.Slice(0, length, lo, hi)
		vh := v.Slice(0, length, lo, hi)

		var scores mat.Dense
		scores.Mul(qh, kh.T())
		scores.Scale(scale, &scores)
		softmaxRows(&scores)

		var head mat.Dense
		head.Mul(&scores, vh)
		concat.Slice(0, length, lo, hi).(*mat.Dense).Copy(&head)
	}
	return a.output.forward(concat)
}

// fusion combines the body and face features with self-attention followed
// by a feed-forward block, each with a residual LayerNorm, then averages
// over the two tokens.
type fusion struct {
	attn  *attention
	norm1 *layerNorm
	ffnIn *linear
	ffnUp *linear
	norm2 *layerNorm
}

func loadFusion(l tensorLoader, dim, heads int) (*fusion, error) {
	attn, err := loadAttention(l, "fusion.cross_attention", dim, heads)
	if err != nil {
		return nil, err
	}
	n1, err := loadLayerNorm(l, "fusion.norm1", dim)
	if err != nil {
		return nil, err
	}
	f0, err := loadLinear(l, "fusion.ffn.0", dim, 4*dim)
	if err != nil {
		return nil, err
	}
	f3, err := loadLinear(l, "fusion.ffn.3", 4*dim, dim)
	if err != nil {
		return nil, err
	}
	n2, err := loadLayerNorm(l, "fusion.norm2", dim)
	if err != nil {
		return nil, err
	}
	return &fusion{attn: attn, norm1: n1, ffnIn: f0, ffnUp: f3, norm2: n2}, nil
}

// forward returns the fused vector for one body/face pair.
func (f *fusion) forward(body, face []float64) []float64 {
	dim := len(body)
	seq := mat.NewDense(2, dim, nil)
	seq.SetRow(0, body)
	seq.SetRow(1, face)

	var x mat.Dense
	x.Add(seq, f.attn.forward(seq))
	h := f.norm1.forward(&x)

	ffn := f.ffnUp.forward(applyInPlace(f.ffnIn.forward(h), gelu))
	var y mat.Dense
	y.Add(h, ffn)
	out := f.norm2.forward(&y)

	fused := make([]float64, dim)
	for j := range fused {
		fused[j] = (out.At(0, j) + out.At(1, j)) / 2
	}
	return fused
}

// trunk is the shared projection between fusion and the heads.
type trunk struct {
	fc1 *linear
	bn1 *batchNorm
	fc2 *linear
	bn2 *batchNorm
}

func loadTrunk(l tensorLoader, dim, hidden int) (*trunk, error) {
	fc1, err := loadLinear(l, "shared_mlp.0", dim, hidden)
	if err != nil {
		return nil, err
	}
	bn1, err := loadBatchNorm(l, "shared_mlp.1", hidden)
	if err != nil {
		return nil, err
	}
	fc2, err := loadLinear(l, "shared_mlp.4", hidden, dim)
	if err != nil {
		return nil, err
	}
	bn2, err := loadBatchNorm(l, "shared_mlp.5", dim)
	if err != nil {
		return nil, err
	}
	return &trunk{fc1: fc1, bn1: bn1, fc2: fc2, bn2: bn2}, nil
}

// forward maps n×dim fused rows to n×dim shared representations.
func (t *trunk) forward(x *mat.Dense) *mat.Dense {
	h := applyInPlace(t.bn1.forward(t.fc1.forward(x)), relu)
	return applyInPlace(t.bn2.forward(t.fc2.forward(h)), relu)
}
