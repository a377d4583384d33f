package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
)

// MatMul multiplies two Float32 matrices [m, k] x [k, n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkFloat32("matmul", t1, t2); err != nil {
		return nil, err
	}
	if t1.Rank() != 2 || t2.Rank() != 2 {
		return nil, fmt.Errorf("matmul requires 2-D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]
	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	out := make([]float32, rows1*cols2)
	gemm(blas.NoTrans, blas.NoTrans, rows1, cols1, t1.Float32s(), rows2, cols2, t2.Float32s(), rows1, cols2, out)
	return NewTensor([]int{rows1, cols2}, Float32, out)
}

// Transpose swaps the two axes of a 2-D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if err := checkFloat32("transpose", t); err != nil {
		return nil, err
	}
	if t.Rank() != 2 {
		return nil, fmt.Errorf("transpose requires a 2-D tensor, got %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	in := t.Float32s()
	out := make([]float32, len(in))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = in[i*cols+j]
		}
	}
	return NewTensor([]int{cols, rows}, Float32, out)
}

// Reshape returns a tensor sharing t's data under newShape. One dimension
// may be -1 and is inferred.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	shape := cloneShape(newShape)
	known, infer := 1, -1
	for i, dim := range shape {
		switch {
		case dim == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			infer = i
		case dim < 0:
			return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
		default:
			known *= dim
		}
	}
	if infer >= 0 {
		if known == 0 || t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into %v", t.NumElems, newShape)
		}
		shape[infer] = t.NumElems / known
		known *= shape[infer]
	}
	if known != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, shape, known)
	}
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// axisSplit describes a tensor as [outer, size, inner] around axis.
func axisSplit(shape []int, axis int) (outer, size, inner int, err error) {
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return 0, 0, 0, fmt.Errorf("axis %d out of range for shape %v", axis, shape)
	}
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner, nil
}

func normalizeAxis(axis, rank int) int {
	if axis < 0 {
		return axis + rank
	}
	return axis
}

// reducedShape drops axis from shape, or sets it to 1 when keepDim is set.
func reducedShape(shape []int, axis int, keepDim bool) []int {
	axis = normalizeAxis(axis, len(shape))
	out := make([]int, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != axis:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}

// Sum reduces a Float32 tensor over axis without recording a graph node.
func Sum(t *Tensor, axis int, keepDim bool) (*Tensor, error) {
	if err := checkFloat32("sum", t); err != nil {
		return nil, err
	}
	outer, size, inner, err := axisSplit(t.Shape, axis)
	if err != nil {
		return nil, err
	}
	in := t.Float32s()
	out := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for s := 0; s < size; s++ {
			src := in[(o*size+s)*inner : (o*size+s+1)*inner]
			dst := out[o*inner : (o+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
	}
	return NewTensor(reducedShape(t.Shape, axis, keepDim), Float32, out)
}
