package network

import (
	"fmt"

	"github.com/tsawler/waterfall-net/tensor"
)

// anyDim marks a dimension expectShape does not constrain.
const anyDim = -1

// expectShape checks dtype, rank and the constrained dimensions of t.
func expectShape(op string, t *tensor.Tensor, dtype tensor.DType, dims ...int) error {
	if t == nil {
		return fmt.Errorf("%s: missing tensor", op)
	}
	if t.DType != dtype {
		return fmt.Errorf("%s: expected %s tensor, got %s", op, dtype, t.DType)
	}
	if t.Rank() != len(dims) {
		return &tensor.ShapeError{Op: op, Want: describe(dims), Got: t.Shape}
	}
	for i, d := range dims {
		if d != anyDim && t.Shape[i] != d {
			return &tensor.ShapeError{Op: op, Want: describe(dims), Got: t.Shape}
		}
	}
	return nil
}

func describe(dims []int) string {
	s := "["
	for i, d := range dims {
		if i > 0 {
			s += ", "
		}
		if d == anyDim {
			s += "*"
		} else {
			s += fmt.Sprint(d)
		}
	}
	return s + "]"
}

// GatherNeighbour turns per-point values x [B, N, d] into neighborhoods
// [B, M, k, d] with out[b, i, j] = x[b, idx[b, i, j]]. idx is [B, M, k]
// and must index into N; an out-of-range index panics.
func GatherNeighbour(x, idx *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectShape("gather_neighbour", x, tensor.Float32, anyDim, anyDim, anyDim); err != nil {
		return nil, err
	}
	if err := expectShape("gather_neighbour index", idx, tensor.Int32, x.Shape[0], anyDim, anyDim); err != nil {
		return nil, err
	}
	return tensor.GatherAutograd(x, idx)
}
