package checkpoints

import (
	"fmt"
	"strings"

	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// ExtractWeights copies every parameter and running statistic of reg.
func ExtractWeights(reg *layers.Registry) []WeightTensor {
	var weights []WeightTensor
	add := func(named []layers.NamedTensor, buffer bool) {
		for _, p := range named {
			layer, kind := splitKey(p.Name)
			weights = append(weights, WeightTensor{
				Name:   p.Name,
				Shape:  append([]int(nil), p.Tensor.Shape...),
				Data:   append([]float32(nil), p.Tensor.Float32s()...),
				Layer:  layer,
				Type:   kind,
				Buffer: buffer,
			})
		}
	}
	add(reg.NamedParameters(), false)
	add(reg.NamedBuffers(), true)
	return weights
}

// LoadWeights restores weights into reg. The checkpoint must hold exactly
// the registry's keys with matching shapes.
func LoadWeights(reg *layers.Registry, weights []WeightTensor) error {
	var params, buffers []layers.NamedTensor
	for _, w := range weights {
		t, err := tensor.FromFloat32(w.Shape, w.Data)
		if err != nil {
			return fmt.Errorf("weight %s: %w", w.Name, err)
		}
		nt := layers.NamedTensor{Name: w.Name, Tensor: t}
		if w.Buffer {
			buffers = append(buffers, nt)
		} else {
			params = append(params, nt)
		}
	}
	return reg.Restore(params, buffers)
}

// splitKey separates "backbone1/bn/gamma" into its layer and tensor kind.
func splitKey(name string) (layer, kind string) {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
