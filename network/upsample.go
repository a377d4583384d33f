package network

import (
	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// LearnToUp upsamples coarse features to fine points. Each fine point takes
// the features of its k' interpolation sources, weighted by a softmax over
// a learned score of the source offset (3→8 with batch norm and leaky
// ReLU, then 8→1 linear).
type LearnToUp struct {
	MLP1 *layers.SharedMLP
	MLP2 *layers.SharedMLP
}

func NewLearnToUp(reg *layers.Registry, name string) (*LearnToUp, error) {
	mlp1, err := layers.NewSharedMLP(reg, name+"/mlp1", 3, 8, true, true)
	if err != nil {
		return nil, err
	}
	mlp2, err := layers.NewSharedMLP(reg, name+"/mlp2", 8, 1, false, false)
	if err != nil {
		return nil, err
	}
	return &LearnToUp{MLP1: mlp1, MLP2: mlp2}, nil
}

// Forward maps feature [B, N', d] at the coarse level to [B, N, d] at the
// fine level. xyz is [B, N, 3], subXYZ [B, N', 3] and interpIdx [B, N, k']
// indexes into N'.
func (u *LearnToUp) Forward(xyz, subXYZ, feature, interpIdx *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectShape("learn_to_up xyz", xyz, tensor.Float32, anyDim, anyDim, 3); err != nil {
		return nil, err
	}
	b, n := xyz.Shape[0], xyz.Shape[1]
	if err := expectShape("learn_to_up sub_xyz", subXYZ, tensor.Float32, b, anyDim, 3); err != nil {
		return nil, err
	}
	if err := expectShape("learn_to_up feature", feature, tensor.Float32, b, subXYZ.Shape[1], anyDim); err != nil {
		return nil, err
	}
	if err := expectShape("learn_to_up index", interpIdx, tensor.Int32, b, n, anyDim); err != nil {
		return nil, err
	}

	neighXYZ, err := NearestInterpolation(subXYZ, interpIdx)
	if err != nil {
		return nil, err
	}
	center, err := tensor.Reshape(xyz, []int{b, n, 1, 3})
	if err != nil {
		return nil, err
	}
	rel, err := tensor.Sub(neighXYZ, center)
	if err != nil {
		return nil, err
	}

	neighFeat, err := NearestInterpolation(feature, interpIdx)
	if err != nil {
		return nil, err
	}
	score, err := u.MLP1.Forward(rel)
	if err != nil {
		return nil, err
	}
	if score, err = u.MLP2.Forward(score); err != nil {
		return nil, err
	}
	w, err := tensor.SoftmaxAutograd(score, 2)
	if err != nil {
		return nil, err
	}
	weighted, err := tensor.MulAutograd(w, neighFeat)
	if err != nil {
		return nil, err
	}
	return tensor.SumAutograd(weighted, 2)
}
