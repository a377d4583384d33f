package layers

import (
	"fmt"

	"github.com/tsawler/waterfall-net/tensor"
)

// DropoutLayer zeroes each element with probability Rate during training
// and scales the survivors by 1/(1-Rate). It is the identity at inference.
type DropoutLayer struct {
	Name string
	Rate float32
	reg  *Registry
}

func NewDropout(reg *Registry, name string, rate float32) (*DropoutLayer, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("%s: dropout rate %v must be in [0, 1)", name, rate)
	}
	reg.addSpec(LayerSpec{
		Type:       Dropout,
		Name:       name,
		Parameters: map[string]interface{}{"rate": rate},
	})
	return &DropoutLayer{Name: name, Rate: rate, reg: reg}, nil
}

func (d *DropoutLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.reg.Training() || d.Rate == 0 {
		return x, nil
	}
	rng := d.reg.Rand()
	keep := 1 - d.Rate
	scale := 1 / keep
	mask := make([]float32, x.NumElems)
	for i := range mask {
		if rng.Float32() < keep {
			mask[i] = scale
		}
	}
	m, err := tensor.FromFloat32(x.Shape, mask)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return tensor.MulAutograd(x, m)
}
