package layers

import (
	"fmt"
	"math"

	"github.com/tsawler/waterfall-net/tensor"
)

// Linear is a per-point fully connected layer: y = x·W + b over the last
// axis. It plays the role of a 1x1 convolution.
type Linear struct {
	Name   string
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewLinear registers a [in, out] weight initialized with Xavier/Glorot
// uniform and, when bias is set, a zero [out] bias.
func NewLinear(reg *Registry, name string, in, out int, bias bool) (*Linear, error) {
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(in+out))
	rng := reg.Rand()
	w, err := reg.newParam(name+"/weights", []int{in, out}, func(data []float32) {
		for i := range data {
			data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
		}
	})
	if err != nil {
		return nil, err
	}

	l := &Linear{Name: name, Weight: w}
	shapes := [][]int{{in, out}}
	count := int64(in * out)
	if bias {
		b, err := reg.newParam(name+"/biases", []int{out}, nil)
		if err != nil {
			return nil, err
		}
		l.Bias = b
		shapes = append(shapes, []int{out})
		count += int64(out)
	}

	reg.addSpec(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"input_size":  in,
			"output_size": out,
			"use_bias":    bias,
		},
		ParameterShapes: shapes,
		ParameterCount:  count,
	})
	return l, nil
}

// InputSize returns the expected size of the last input axis.
func (l *Linear) InputSize() int { return l.Weight.Shape[0] }

// OutputSize returns the size of the last output axis.
func (l *Linear) OutputSize() int { return l.Weight.Shape[1] }

// Forward applies the layer to x [..., in].
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := tensor.LinearAutograd(x, l.Weight, l.Bias)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Name, err)
	}
	return y, nil
}
