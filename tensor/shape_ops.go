package tensor

import (
	"fmt"
)

// GatherOp selects rows of a batched point tensor. x is [B, N, C] and idx is
// an Int32 tensor [B, ...] of row indices into N; the result has shape
// idx.Shape + [C]. Indices are not range checked: an out-of-range index
// panics with the runtime's index error.
type GatherOp struct {
	inputs []*Tensor
}

func (op *GatherOp) Name() string      { return "Gather" }
func (op *GatherOp) Inputs() []*Tensor { return op.inputs }

func (op *GatherOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("GatherOp requires exactly 2 inputs")
	}
	x, idx := inputs[0], inputs[1]
	if err := checkFloat32("gather", x); err != nil {
		return nil, err
	}
	if x.Rank() != 3 {
		return nil, &ShapeError{Op: "gather", Want: "[B, N, C]", Got: x.Shape}
	}
	if idx.DType != Int32 {
		return nil, fmt.Errorf("gather: index tensor must be Int32, got %s", idx.DType)
	}
	if idx.Rank() < 1 || idx.Shape[0] != x.Shape[0] {
		return nil, &ShapeError{Op: "gather", Want: fmt.Sprintf("[%d, ...] index", x.Shape[0]), Got: idx.Shape}
	}
	op.inputs = []*Tensor{x, idx}

	n, c := x.Shape[1], x.Shape[2]
	batch := x.Shape[0]
	perBatch := 0
	if batch > 0 {
		perBatch = idx.NumElems / batch
	}
	src, ids := x.Float32s(), idx.Int32s()
	out := make([]float32, idx.NumElems*c)
	for b := 0; b < batch; b++ {
		base := b * n * c
		for i := 0; i < perBatch; i++ {
			row := b*perBatch + i
			s := base + int(ids[row])*c
			copy(out[row*c:(row+1)*c], src[s:s+c])
		}
	}

	outShape := append(cloneShape(idx.Shape), c)
	result, err := NewTensor(outShape, Float32, out)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *GatherOp) Backward(gradOut *Tensor) []*Tensor {
	x, idx := op.inputs[0], op.inputs[1]
	if !x.requiresGrad {
		return []*Tensor{nil, nil}
	}
	n, c := x.Shape[1], x.Shape[2]
	batch := x.Shape[0]
	perBatch := 0
	if batch > 0 {
		perBatch = idx.NumElems / batch
	}
	g, ids := gradOut.Float32s(), idx.Int32s()
	dx := make([]float32, x.NumElems)
	for b := 0; b < batch; b++ {
		base := b * n * c
		for i := 0; i < perBatch; i++ {
			row := b*perBatch + i
			d := dx[base+int(ids[row])*c : base+int(ids[row])*c+c]
			for j, v := range g[row*c : (row+1)*c] {
				d[j] += v
			}
		}
	}
	return []*Tensor{mustFloat32(x.Shape, dx), nil}
}

// GatherAutograd gathers rows of x by idx with automatic differentiation.
func GatherAutograd(x, idx *Tensor) (*Tensor, error) {
	op := &GatherOp{}
	return op.Forward(x, idx)
}

// ConcatOp joins Float32 tensors along the last axis. All leading
// dimensions must match.
type ConcatOp struct {
	inputs []*Tensor
}

func (op *ConcatOp) Name() string      { return "Concat" }
func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("ConcatOp requires at least 1 input")
	}
	if err := checkFloat32("concat", inputs...); err != nil {
		return nil, err
	}
	lead := inputs[0].Shape[:inputs[0].Rank()-1]
	total := 0
	for _, t := range inputs {
		if t.Rank() != len(lead)+1 || !shapesEqual(t.Shape[:t.Rank()-1], lead) {
			return nil, &ShapeError{Op: "concat", Want: fmt.Sprintf("%v + [C]", lead), Got: t.Shape}
		}
		total += t.Dim(-1)
	}
	op.inputs = inputs

	rows := calculateNumElements(lead)
	if len(lead) == 0 {
		rows = 1
	}
	out := make([]float32, rows*total)
	off := 0
	for _, t := range inputs {
		c := t.Dim(-1)
		src := t.Float32s()
		for r := 0; r < rows; r++ {
			copy(out[r*total+off:r*total+off+c], src[r*c:(r+1)*c])
		}
		off += c
	}

	outShape := append(cloneShape(lead), total)
	result, err := NewTensor(outShape, Float32, out)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *ConcatOp) Backward(gradOut *Tensor) []*Tensor {
	total := gradOut.Dim(-1)
	rows := 0
	if total > 0 {
		rows = gradOut.NumElems / total
	} else {
		rows = calculateNumElements(gradOut.Shape[:gradOut.Rank()-1])
	}
	g := gradOut.Float32s()
	grads := make([]*Tensor, len(op.inputs))
	off := 0
	for i, t := range op.inputs {
		c := t.Dim(-1)
		if t.requiresGrad {
			d := make([]float32, t.NumElems)
			for r := 0; r < rows; r++ {
				copy(d[r*c:(r+1)*c], g[r*total+off:r*total+off+c])
			}
			grads[i] = mustFloat32(t.Shape, d)
		}
		off += c
	}
	return grads
}

// ConcatAutograd concatenates along the last axis.
func ConcatAutograd(inputs ...*Tensor) (*Tensor, error) {
	op := &ConcatOp{}
	return op.Forward(inputs...)
}

// ReshapeOp views x under a new shape with the same element count. The
// result shares x's data.
type ReshapeOp struct {
	Shape  []int
	inputs []*Tensor
}

func (op *ReshapeOp) Name() string      { return "Reshape" }
func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ReshapeOp requires exactly 1 input")
	}
	x := inputs[0]
	op.inputs = inputs
	result, err := Reshape(x, op.Shape)
	if err != nil {
		return nil, err
	}
	if x.DType != Float32 {
		return result, nil
	}
	return record(op, result)
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	return []*Tensor{mustFloat32(x.Shape, gradOut.Float32s())}
}

// ReshapeAutograd reshapes with automatic differentiation.
func ReshapeAutograd(x *Tensor, shape []int) (*Tensor, error) {
	op := &ReshapeOp{Shape: cloneShape(shape)}
	return op.Forward(x)
}
