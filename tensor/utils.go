package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Clone returns a deep copy of t detached from any graph.
func (t *Tensor) Clone() (*Tensor, error) {
	switch t.DType {
	case Float32:
		data := make([]float32, t.NumElems)
		copy(data, t.Float32s())
		return NewTensor(t.Shape, Float32, data)
	case Int32:
		data := make([]int32, t.NumElems)
		copy(data, t.Int32s())
		return NewTensor(t.Shape, Int32, data)
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}
}

// Detach returns a tensor sharing t's data with no graph history.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    cloneShape(t.Shape),
		Strides:  cloneShape(t.Strides),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

// Item returns the value of a single-element Float32 tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item() only works on single-element tensors, got %d elements", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return t.Float32s()[0], nil
	case Int32:
		return float32(t.Int32s()[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// At returns the element at the given multi-dimensional index as float64.
func (t *Tensor) At(indices ...int) (float64, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	flat := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d with size %d", idx, i, t.Shape[i])
		}
		flat += idx * t.Strides[i]
	}
	switch t.DType {
	case Float32:
		return float64(t.Float32s()[flat]), nil
	case Int32:
		return float64(t.Int32s()[flat]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", t.DType)
	}
}

// Equal reports whether both tensors have the same dtype, shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	switch t.DType {
	case Float32:
		a, b := t.Float32s(), other.Float32s()
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	case Int32:
		a, b := t.Int32s(), other.Int32s()
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// AllClose reports whether two Float32 tensors match within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !shapesEqual(a.Shape, b.Shape) || a.DType != Float32 || b.DType != Float32 {
		return false
	}
	x, y := a.Float32s(), b.Float32s()
	for i := range x {
		if math.Abs(float64(x[i])-float64(y[i])) > tol {
			return false
		}
	}
	return true
}

// PrintData renders up to maxElements values for debugging.
func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(shape=%v, dtype=%s)\nData: [", t.Shape, t.DType)
	n := t.NumElems
	if maxElements > 0 && n > maxElements {
		n = maxElements
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch t.DType {
		case Float32:
			fmt.Fprintf(&sb, "%.4f", t.Float32s()[i])
		case Int32:
			fmt.Fprintf(&sb, "%d", t.Int32s()[i])
		}
	}
	if n < t.NumElems {
		fmt.Fprintf(&sb, ", ... (%d more)", t.NumElems-n)
	}
	sb.WriteString("]")
	return sb.String()
}

// ArgMax returns, for each row of the last axis, the index of the largest
// value. The result drops the last axis and is Int32.
func ArgMax(t *Tensor) (*Tensor, error) {
	if err := checkFloat32("argmax", t); err != nil {
		return nil, err
	}
	c := t.Dim(-1)
	if c == 0 {
		return nil, fmt.Errorf("argmax: empty last axis in %v", t.Shape)
	}
	rows := t.NumElems / c
	in := t.Float32s()
	out := make([]int32, rows)
	for r := 0; r < rows; r++ {
		row := in[r*c : (r+1)*c]
		best := 0
		for j := 1; j < c; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[r] = int32(best)
	}
	return NewTensor(reducedShape(t.Shape, -1, false), Int32, out)
}
