package network

import (
	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// AttentivePooling reduces a neighborhood [B, N, k, d] to [B, N, dOut].
// A bias-free d→d map scores every neighbor channel, softmax over k turns
// the scores into weights, and the weighted sum is projected by a
// SharedMLP with batch norm and leaky ReLU.
type AttentivePooling struct {
	Score *layers.Linear
	MLP   *layers.SharedMLP
	in    int
}

func NewAttentivePooling(reg *layers.Registry, name string, in, out int) (*AttentivePooling, error) {
	score, err := layers.NewLinear(reg, name+"/fc", in, in, false)
	if err != nil {
		return nil, err
	}
	mlp, err := layers.NewSharedMLP(reg, name+"/mlp", in, out, true, true)
	if err != nil {
		return nil, err
	}
	return &AttentivePooling{Score: score, MLP: mlp, in: in}, nil
}

// Weights returns the attention weights [B, N, k, d] for a neighborhood.
func (a *AttentivePooling) Weights(set *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectShape("att_pooling", set, tensor.Float32, anyDim, anyDim, anyDim, a.in); err != nil {
		return nil, err
	}
	scores, err := a.Score.Forward(set)
	if err != nil {
		return nil, err
	}
	return tensor.SoftmaxAutograd(scores, 2)
}

func (a *AttentivePooling) Forward(set *tensor.Tensor) (*tensor.Tensor, error) {
	w, err := a.Weights(set)
	if err != nil {
		return nil, err
	}
	weighted, err := tensor.MulAutograd(set, w)
	if err != nil {
		return nil, err
	}
	agg, err := tensor.SumAutograd(weighted, 2)
	if err != nil {
		return nil, err
	}
	return a.MLP.Forward(agg)
}
