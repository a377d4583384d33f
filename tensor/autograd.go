package tensor

import (
	"fmt"
)

// Backward runs reverse-mode differentiation from a scalar tensor, adding
// the gradient of t into Grad() of every leaf that requires it.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar output, got shape %v", t.Shape)
	}
	seed, err := Ones(t.Shape, Float32)
	if err != nil {
		return err
	}
	return t.BackwardWithGrad(seed)
}

// BackwardWithGrad runs reverse-mode differentiation seeded with grad.
func (t *Tensor) BackwardWithGrad(grad *Tensor) error {
	if !t.requiresGrad {
		return fmt.Errorf("backward called on a tensor that does not require grad")
	}
	if !shapesEqual(t.Shape, grad.Shape) {
		return fmt.Errorf("seed gradient shape %v does not match output %v", grad.Shape, t.Shape)
	}

	order := topoSort(t)
	grads := map[*Tensor]*Tensor{t: grad}
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}
		delete(grads, node)

		if node.creator == nil {
			node.grad = accumulate(node.grad, g)
			continue
		}

		inputGrads := node.creator.Backward(g)
		for j, in := range node.creator.Inputs() {
			if in == nil || !in.requiresGrad || j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			if !shapesEqual(in.Shape, inputGrads[j].Shape) {
				return fmt.Errorf("%s: gradient shape %v does not match input %d shape %v",
					node.creator.Name(), inputGrads[j].Shape, j, in.Shape)
			}
			grads[in] = accumulate(grads[in], inputGrads[j])
		}
	}
	return nil
}

// topoSort returns the nodes reachable from root that require grad, with
// every node placed after all of its inputs.
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if n == nil || visited[n] || !n.requiresGrad {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(root)
	return order
}

// ZeroGrad clears accumulated gradients.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t != nil {
			t.grad = nil
		}
	}
}

// record attaches op as the creator of out and runs the numeric check.
func record(op Operation, out *Tensor) (*Tensor, error) {
	for _, in := range op.Inputs() {
		if in != nil && in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			break
		}
	}
	if err := checkOutput(op, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Record lets operations defined outside this package join the graph.
func Record(op Operation, out *Tensor) (*Tensor, error) {
	return record(op, out)
}

// AddOp implements the Operation interface for tensor addition
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Name() string      { return "Add" }
func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{
		reduceGradientToShape(gradOut, op.inputs[0].Shape),
		reduceGradientToShape(gradOut, op.inputs[1].Shape),
	}
}

// SubOp implements the Operation interface for tensor subtraction
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Name() string      { return "Sub" }
func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{
		reduceGradientToShape(gradOut, op.inputs[0].Shape),
		reduceGradientToShape(scaled(gradOut, -1), op.inputs[1].Shape),
	}
}

// MulOp implements the Operation interface for element-wise multiplication
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Name() string      { return "Mul" }
func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]
	grads := make([]*Tensor, 2)

	// ∂(a*b)/∂a = b, ∂(a*b)/∂b = a, reduced over broadcast axes
	if a.requiresGrad {
		gradA, err := Mul(gradOut, b)
		if err != nil {
			panic(fmt.Sprintf("MulOp backward: %v", err))
		}
		grads[0] = reduceGradientToShape(gradA, a.Shape)
	}
	if b.requiresGrad {
		gradB, err := Mul(gradOut, a)
		if err != nil {
			panic(fmt.Sprintf("MulOp backward: %v", err))
		}
		grads[1] = reduceGradientToShape(gradB, b.Shape)
	}
	return grads
}

// LeakyReLUOp implements max(x, alpha*x)
type LeakyReLUOp struct {
	Alpha  float32
	inputs []*Tensor
}

func (op *LeakyReLUOp) Name() string      { return "LeakyReLU" }
func (op *LeakyReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *LeakyReLUOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("LeakyReLUOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := LeakyReLU(inputs[0], op.Alpha)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *LeakyReLUOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0].Float32s()
	g := gradOut.Float32s()
	out := make([]float32, len(g))
	for i := range g {
		if in[i] < 0 {
			out[i] = g[i] * op.Alpha
		} else {
			out[i] = g[i]
		}
	}
	return []*Tensor{mustFloat32(gradOut.Shape, out)}
}

// DefaultLeakyAlpha matches the negative slope used across the network.
const DefaultLeakyAlpha = 0.2

// AddAutograd performs addition with automatic differentiation
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs multiplication with automatic differentiation
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	op := &MulOp{}
	return op.Forward(a, b)
}

// LeakyReLUAutograd applies leaky ReLU with the network's default slope.
func LeakyReLUAutograd(a *Tensor) (*Tensor, error) {
	op := &LeakyReLUOp{Alpha: DefaultLeakyAlpha}
	return op.Forward(a)
}
