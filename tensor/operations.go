package tensor

import (
	"fmt"
)

func checkFloat32(op string, tensors ...*Tensor) error {
	for _, t := range tensors {
		if t == nil {
			return fmt.Errorf("%s: nil tensor", op)
		}
		if t.DType != Float32 {
			return fmt.Errorf("%s: expected Float32 tensor, got %s", op, t.DType)
		}
	}
	return nil
}

// binaryBroadcast applies f element-wise over the broadcast shape of t1, t2.
func binaryBroadcast(op string, t1, t2 *Tensor, f func(a, b float32) float32) (*Tensor, error) {
	if err := checkFloat32(op, t1, t2); err != nil {
		return nil, err
	}
	a, b := t1.Float32s(), t2.Float32s()

	if shapesEqual(t1.Shape, t2.Shape) {
		out := make([]float32, len(a))
		for i := range a {
			out[i] = f(a[i], b[i])
		}
		return NewTensor(t1.Shape, Float32, out)
	}

	outShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]float32, calculateNumElements(outShape))
	forEachBroadcast(outShape, broadcastStrides(t1.Shape, outShape), broadcastStrides(t2.Shape, outShape),
		func(o, ai, bi int) {
			out[o] = f(a[ai], b[bi])
		})
	return NewTensor(outShape, Float32, out)
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryBroadcast("add", t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryBroadcast("sub", t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryBroadcast("mul", t1, t2, func(a, b float32) float32 { return a * b })
}

// LeakyReLU applies max(x, alpha*x) without recording a graph node.
func LeakyReLU(t *Tensor, alpha float32) (*Tensor, error) {
	if err := checkFloat32("leaky_relu", t); err != nil {
		return nil, err
	}
	in := t.Float32s()
	out := make([]float32, len(in))
	for i, v := range in {
		if v < 0 {
			v *= alpha
		}
		out[i] = v
	}
	return NewTensor(t.Shape, Float32, out)
}

// accumulate returns a fresh tensor holding existing + g. Neither argument is
// modified, so gradients shared between graph nodes are never aliased.
func accumulate(existing, g *Tensor) *Tensor {
	if existing == nil {
		out := make([]float32, g.NumElems)
		copy(out, g.Float32s())
		return mustFloat32(g.Shape, out)
	}
	a, b := existing.Float32s(), g.Float32s()
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return mustFloat32(existing.Shape, out)
}

func scaled(g *Tensor, s float32) *Tensor {
	in := g.Float32s()
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v * s
	}
	return mustFloat32(g.Shape, out)
}
