package scorer

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

const normEps = 1e-5

// tensorLoader pulls named tensors out of a weights map and checks shapes.
type tensorLoader struct {
	w Weights
}

func (l tensorLoader) get(name string, shape ...int) ([]float64, error) {
	t, ok := l.w[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingWeight, name)
	}
	if !slices.Equal(t.Shape, shape) {
		return nil, &ShapeError{Name: name, Got: t.Shape, Want: shape}
	}
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out, nil
}

func (l tensorLoader) dense(name string, rows, cols int) (*mat.Dense, error) {
	data, err := l.get(name, rows, cols)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, data), nil
}

func (l tensorLoader) vec(name string, n int) (*mat.VecDense, error) {
	data, err := l.get(name, n)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(n, data), nil
}

// linear is y = x·Wᵀ + b with W stored as [out, in].
type linear struct {
	weight *mat.Dense
	bias   *mat.VecDense
}

func loadLinear(l tensorLoader, prefix string, in, out int) (*linear, error) {
	w, err := l.dense(prefix+".weight", out, in)
	if err != nil {
		return nil, err
	}
	b, err := l.vec(prefix+".bias", out)
	if err != nil {
		return nil, err
	}
	return &linear{weight: w, bias: b}, nil
}

// loadLinearAnyOut loads a linear layer whose output size is read from the
// weights.
func loadLinearAnyOut(l tensorLoader, prefix string, in int) (*linear, error) {
	t, ok := l.w[prefix+".weight"]
	if !ok {
		return nil, fmt.Errorf("%w: %s.weight", ErrMissingWeight, prefix)
	}
	if len(t.Shape) != 2 || t.Shape[0] < 1 {
		return nil, &ShapeError{Name: prefix + ".weight", Got: t.Shape, Want: []int{-1, in}}
	}
	return loadLinear(l, prefix, in, t.Shape[0])
}

func (f *linear) outDim() int {
	r, _ := f.weight.Dims()
	return r
}

// forward maps each row of x (n×in) to a row of the result (n×out).
func (f *linear) forward(x mat.Matrix) *mat.Dense {
	var y mat.Dense
	y.Mul(x, f.weight.T())
	rows, cols := y.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			y.Set(i, j, y.At(i, j)+f.bias.AtVec(j))
		}
	}
	return &y
}

// layerNorm normalizes each row over its features.
type layerNorm struct {
	gamma *mat.VecDense
	beta  *mat.VecDense
}

func loadLayerNorm(l tensorLoader, prefix string, dim int) (*layerNorm, error) {
	g, err := l.vec(prefix+".weight", dim)
	if err != nil {
		return nil, err
	}
	b, err := l.vec(prefix+".bias", dim)
	if err != nil {
		return nil, err
	}
	return &layerNorm{gamma: g, beta: b}, nil
}

func (n *layerNorm) forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+normEps)
		for j, v := range row {
			out.Set(i, j, (v-mean)*inv*n.gamma.AtVec(j)+n.beta.AtVec(j))
		}
	}
	return out
}

// batchNorm applies BatchNorm1d in inference mode using running statistics.
type batchNorm struct {
	scale *mat.VecDense // gamma / sqrt(var + eps)
	shift *mat.VecDense // beta - mean*scale
}

func loadBatchNorm(l tensorLoader, prefix string, dim int) (*batchNorm, error) {
	gamma, err := l.get(prefix+".weight", dim)
	if err != nil {
		return nil, err
	}
	beta, err := l.get(prefix+".bias", dim)
	if err != nil {
		return nil, err
	}
	mean, err := l.get(prefix+".running_mean", dim)
	if err != nil {
		return nil, err
	}
	variance, err := l.get(prefix+".running_var", dim)
	if err != nil {
		return nil, err
	}

	scale := make([]float64, dim)
	shift := make([]float64, dim)
	for i := range dim {
		scale[i] = gamma[i] / math.Sqrt(variance[i]+normEps)
		shift[i] = beta[i] - mean[i]*scale[i]
	}
	return &batchNorm{scale: mat.NewVecDense(dim, scale), shift: mat.NewVecDense(dim, shift)}, nil
}

func (n *batchNorm) forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, x.At(i, j)*n.scale.AtVec(j)+n.shift.AtVec(j))
		}
	}
	return out
}

func applyInPlace(x *mat.Dense, fn func(float64) float64) *mat.Dense {
	x.Apply(func(_, _ int, v float64) float64 { return fn(v) }, x)
	return x
}

func relu(v float64) float64 {
	return math.Max(0, v)
}

// gelu is the exact erf form.
func gelu(v float64) float64 {
	return 0.5 * v * (1 + math.Erf(v/math.Sqrt2))
}

// softmaxRows applies a numerically stable softmax to each row in place.
func softmaxRows(x *mat.Dense) {
	rows, _ := x.Dims()
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		m := slices.Max(row)
		var sum float64
		for j, v := range row {
			row[j] = math.Exp(v - m)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}
