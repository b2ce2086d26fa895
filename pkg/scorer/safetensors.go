package scorer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/nlpodyssey/safetensors"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor creates a tensor, panicking if data does not fill shape.
func NewTensor(data []float32, shape ...int) Tensor {
	if numel(shape) != len(data) {
		panic(fmt.Sprintf("scorer: %d values for shape %v", len(data), shape))
	}
	return Tensor{Shape: shape, Data: data}
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Weights maps dotted parameter names to tensors.
type Weights map[string]Tensor

// LoadWeights reads a safetensors file from disk.
func LoadWeights(path string) (Weights, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("open weights: %w", err)
	}

	w, err := decodeWeights(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ReadWeights decodes a safetensors stream. F32, F16, BF16 and F64 tensors
// are converted to float32; other dtypes are skipped.
func ReadWeights(r io.Reader) (Weights, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSafetensors, err)
	}
	return decodeWeights(buf)
}

func decodeWeights(buf []byte) (Weights, error) {
	st, err := safetensors.Deserialize(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSafetensors, err)
	}

	w := make(Weights, st.Len())
	for _, nt := range st.Tensors() {
		tv := nt.TensorView
		if !floating(tv.DType()) {
			// integer buffers such as num_batches_tracked
			continue
		}
		vals, err := decodeValues(tv.DType(), tv.Data())
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrSafetensors, nt.Name, err)
		}
		shape := make([]int, len(tv.Shape()))
		for i, d := range tv.Shape() {
			shape[i] = int(d)
		}
		w[nt.Name] = Tensor{Shape: shape, Data: vals}
	}
	return w, nil
}

func floating(dt safetensors.DType) bool {
	switch dt {
	case safetensors.F32, safetensors.F64, safetensors.F16, safetensors.BF16:
		return true
	}
	return false
}

func decodeValues(dtype safetensors.DType, buf []byte) ([]float32, error) {
	switch dtype {
	case safetensors.F32:
		out := make([]float32, len(buf)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out, nil
	case safetensors.F64:
		out := make([]float32, len(buf)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:])))
		}
		return out, nil
	case safetensors.F16:
		out := make([]float32, len(buf)/2)
		for i := range out {
			out[i] = halfToFloat(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		return out, nil
	case safetensors.BF16:
		out := make([]float32, len(buf)/2)
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal
		v := float32(frac) / 1024 * float32(math.Pow(2, -14))
		if sign != 0 {
			return -v
		}
		return v
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
	}
}

// WriteWeights encodes w as a safetensors stream of F32 tensors.
func WriteWeights(out io.Writer, w Weights) error {
	views := make(map[string]safetensors.TensorView, len(w))
	for name, t := range w {
		shape := make([]uint64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = uint64(d)
		}
		data := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		tv, err := safetensors.NewTensorView(safetensors.F32, shape, data)
		if err != nil {
			return fmt.Errorf("%w: tensor %q: %v", ErrSafetensors, name, err)
		}
		views[name] = tv
	}

	bw := bufio.NewWriter(out)
	if err := safetensors.SerializeToWriter(views, nil, bw); err != nil {
		return err
	}
	return bw.Flush()
}
