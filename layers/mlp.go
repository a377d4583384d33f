package layers

import (
	"github.com/tsawler/waterfall-net/tensor"
)

// SharedMLP is the network's 1x1 convolution block: a biased Linear applied
// to every point, optionally followed by batch norm and leaky ReLU.
type SharedMLP struct {
	Name       string
	Linear     *Linear
	Norm       *BatchNormLayer
	Activation bool
}

// NewSharedMLP registers name/weights, name/biases and, when bn is set,
// name/bn/*.
func NewSharedMLP(reg *Registry, name string, in, out int, bn, activation bool) (*SharedMLP, error) {
	lin, err := NewLinear(reg, name, in, out, true)
	if err != nil {
		return nil, err
	}
	m := &SharedMLP{Name: name, Linear: lin, Activation: activation}
	if bn {
		if m.Norm, err = NewBatchNorm(reg, name+"/bn", out); err != nil {
			return nil, err
		}
	}
	if activation {
		reg.addSpec(LayerSpec{
			Type:       LeakyReLU,
			Name:       name + "/leaky_relu",
			Parameters: map[string]interface{}{"negative_slope": tensor.DefaultLeakyAlpha},
		})
	}
	return m, nil
}

func (m *SharedMLP) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := m.Linear.Forward(x)
	if err != nil {
		return nil, err
	}
	if m.Norm != nil {
		if y, err = m.Norm.Forward(y); err != nil {
			return nil, err
		}
	}
	if m.Activation {
		return tensor.LeakyReLUAutograd(y)
	}
	return y, nil
}

// OutputSize returns the number of output channels.
func (m *SharedMLP) OutputSize() int { return m.Linear.OutputSize() }
