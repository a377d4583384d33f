package tensor

import (
	"fmt"
	"math"
)

// SumOp reduces over Axis, dropping it from the result.
type SumOp struct {
	Axis   int
	inputs []*Tensor
}

func (op *SumOp) Name() string      { return "Sum" }
func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SumOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Sum(inputs[0], op.Axis, false)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *SumOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	outer, size, inner, _ := axisSplit(x.Shape, op.Axis)
	g := gradOut.Float32s()
	dx := make([]float32, x.NumElems)
	for o := 0; o < outer; o++ {
		src := g[o*inner : (o+1)*inner]
		for s := 0; s < size; s++ {
			copy(dx[(o*size+s)*inner:(o*size+s+1)*inner], src)
		}
	}
	return []*Tensor{mustFloat32(x.Shape, dx)}
}

// SumAutograd sums over axis with automatic differentiation.
func SumAutograd(x *Tensor, axis int) (*Tensor, error) {
	op := &SumOp{Axis: axis}
	return op.Forward(x)
}

// MaxOp takes the maximum over Axis. The gradient flows to the first
// maximal element of each reduced slice.
type MaxOp struct {
	Axis   int
	inputs []*Tensor
	argmax []int
}

func (op *MaxOp) Name() string      { return "Max" }
func (op *MaxOp) Inputs() []*Tensor { return op.inputs }

func (op *MaxOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("MaxOp requires exactly 1 input")
	}
	x := inputs[0]
	if err := checkFloat32("max", x); err != nil {
		return nil, err
	}
	outer, size, inner, err := axisSplit(x.Shape, op.Axis)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, &ShapeError{Op: "max", Want: "non-empty reduction axis", Got: x.Shape}
	}
	op.inputs = inputs

	in := x.Float32s()
	out := make([]float32, outer*inner)
	op.argmax = make([]int, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := o*size*inner + i
			for s := 1; s < size; s++ {
				j := (o*size+s)*inner + i
				if in[j] > in[best] {
					best = j
				}
			}
			out[o*inner+i] = in[best]
			op.argmax[o*inner+i] = best
		}
	}

	result, err := NewTensor(reducedShape(x.Shape, op.Axis, false), Float32, out)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *MaxOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	g := gradOut.Float32s()
	dx := make([]float32, x.NumElems)
	for i, src := range op.argmax {
		dx[src] += g[i]
	}
	return []*Tensor{mustFloat32(x.Shape, dx)}
}

// MaxAutograd takes the maximum over axis with automatic differentiation.
func MaxAutograd(x *Tensor, axis int) (*Tensor, error) {
	op := &MaxOp{Axis: axis}
	return op.Forward(x)
}

// SoftmaxOp normalizes exp(x) over Axis. The result keeps x's shape.
type SoftmaxOp struct {
	Axis   int
	inputs []*Tensor
	output []float32
}

func (op *SoftmaxOp) Name() string      { return "Softmax" }
func (op *SoftmaxOp) Inputs() []*Tensor { return op.inputs }

func (op *SoftmaxOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SoftmaxOp requires exactly 1 input")
	}
	x := inputs[0]
	if err := checkFloat32("softmax", x); err != nil {
		return nil, err
	}
	outer, size, inner, err := axisSplit(x.Shape, op.Axis)
	if err != nil {
		return nil, err
	}
	op.inputs = inputs

	in := x.Float32s()
	out := make([]float32, x.NumElems)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*size*inner + i
			m := float32(math.Inf(-1))
			for s := 0; s < size; s++ {
				if v := in[base+s*inner]; v > m {
					m = v
				}
			}
			var sum float64
			for s := 0; s < size; s++ {
				e := math.Exp(float64(in[base+s*inner] - m))
				out[base+s*inner] = float32(e)
				sum += e
			}
			for s := 0; s < size; s++ {
				out[base+s*inner] = float32(float64(out[base+s*inner]) / sum)
			}
		}
	}
	op.output = out

	result, err := NewTensor(x.Shape, Float32, out)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

// Backward uses dx = y * (dy - sum(dy * y)) over the softmax axis.
func (op *SoftmaxOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	outer, size, inner, _ := axisSplit(x.Shape, op.Axis)
	g, y := gradOut.Float32s(), op.output
	dx := make([]float32, x.NumElems)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*size*inner + i
			var dot float32
			for s := 0; s < size; s++ {
				dot += g[base+s*inner] * y[base+s*inner]
			}
			for s := 0; s < size; s++ {
				k := base + s*inner
				dx[k] = y[k] * (g[k] - dot)
			}
		}
	}
	return []*Tensor{mustFloat32(x.Shape, dx)}
}

// SoftmaxAutograd applies softmax over axis with automatic differentiation.
func SoftmaxAutograd(x *Tensor, axis int) (*Tensor, error) {
	op := &SoftmaxOp{Axis: axis}
	return op.Forward(x)
}
