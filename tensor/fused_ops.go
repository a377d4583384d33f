package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemm computes c = op(a) * op(b) for row-major matrices, skipping empty
// products that the BLAS routines reject.
func gemm(tA, tB blas.Transpose, aRows, aCols int, a []float32, bRows, bCols int, b []float32, cRows, cCols int, c []float32) {
	if cRows == 0 || cCols == 0 {
		return
	}
	if aRows == 0 || aCols == 0 {
		for i := range c {
			c[i] = 0
		}
		return
	}
	blas32.Gemm(tA, tB, 1,
		blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a},
		blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b},
		0,
		blas32.General{Rows: cRows, Cols: cCols, Stride: cCols, Data: c})
}

// LinearOp computes y = x·W + b over the last axis of x. x is [..., in],
// W is [in, out] and the optional b is [out]; y is [..., out]. This is the
// per-point 1x1 convolution of the network.
type LinearOp struct {
	inputs []*Tensor
	rows   int
}

func (op *LinearOp) Name() string      { return "Linear" }
func (op *LinearOp) Inputs() []*Tensor { return op.inputs }

func (op *LinearOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 && len(inputs) != 3 {
		return nil, fmt.Errorf("LinearOp requires 2 or 3 inputs, got %d", len(inputs))
	}
	x, w := inputs[0], inputs[1]
	if err := checkFloat32("linear", x, w); err != nil {
		return nil, err
	}
	if w.Rank() != 2 {
		return nil, &ShapeError{Op: "linear", Want: "[in, out] weight", Got: w.Shape}
	}
	in, out := w.Shape[0], w.Shape[1]
	if x.Dim(-1) != in {
		return nil, &ShapeError{Op: "linear", Want: fmt.Sprintf("[..., %d]", in), Got: x.Shape}
	}
	var b *Tensor
	if len(inputs) == 3 && inputs[2] != nil {
		b = inputs[2]
		if err := checkFloat32("linear", b); err != nil {
			return nil, err
		}
		if b.Rank() != 1 || b.Shape[0] != out {
			return nil, &ShapeError{Op: "linear", Want: fmt.Sprintf("[%d] bias", out), Got: b.Shape}
		}
	}
	op.inputs = []*Tensor{x, w, b}

	rows := x.NumElems / maxInt(in, 1)
	if in == 0 {
		rows = x.NumElems
	}
	op.rows = rows

	y := make([]float32, rows*out)
	gemm(blas.NoTrans, blas.NoTrans, rows, in, x.Float32s(), in, out, w.Float32s(), rows, out, y)
	if b != nil {
		bias := b.Float32s()
		for r := 0; r < rows; r++ {
			row := y[r*out : (r+1)*out]
			for j := range row {
				row[j] += bias[j]
			}
		}
	}

	outShape := cloneShape(x.Shape)
	outShape[len(outShape)-1] = out
	result, err := NewTensor(outShape, Float32, y)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *LinearOp) Backward(gradOut *Tensor) []*Tensor {
	x, w, b := op.inputs[0], op.inputs[1], op.inputs[2]
	in, out := w.Shape[0], w.Shape[1]
	g := gradOut.Float32s()
	grads := make([]*Tensor, 3)

	if x.requiresGrad {
		// dx = dy · Wᵀ
		dx := make([]float32, x.NumElems)
		gemm(blas.NoTrans, blas.Trans, op.rows, out, g, in, out, w.Float32s(), op.rows, in, dx)
		grads[0] = mustFloat32(x.Shape, dx)
	}
	if w.requiresGrad {
		// dW = xᵀ · dy
		dw := make([]float32, in*out)
		gemm(blas.Trans, blas.NoTrans, op.rows, in, x.Float32s(), op.rows, out, g, in, out, dw)
		grads[1] = mustFloat32(w.Shape, dw)
	}
	if b != nil && b.requiresGrad {
		db := make([]float32, out)
		for r := 0; r < op.rows; r++ {
			row := g[r*out : (r+1)*out]
			for j, v := range row {
				db[j] += v
			}
		}
		grads[2] = mustFloat32(b.Shape, db)
	}
	return grads
}

// LinearAutograd applies x·W + b with automatic differentiation. b may be nil.
func LinearAutograd(x, w, b *Tensor) (*Tensor, error) {
	op := &LinearOp{}
	if b == nil {
		return op.Forward(x, w)
	}
	return op.Forward(x, w, b)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
