package network

import (
	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// DropoutRate is the head's dropout probability.
const DropoutRate = 0.5

// Head turns decoder features into per-point class logits.
type Head struct {
	FC1     *layers.SharedMLP
	FC2     *layers.SharedMLP
	Dropout *layers.DropoutLayer
	FC      *layers.SharedMLP
}

func newHead(reg *layers.Registry, in, numClasses int) (*Head, error) {
	fc1, err := layers.NewSharedMLP(reg, "fc1", in, 32, true, true)
	if err != nil {
		return nil, err
	}
	fc2, err := layers.NewSharedMLP(reg, "fc2", 32, 32, true, true)
	if err != nil {
		return nil, err
	}
	dp, err := layers.NewDropout(reg, "dp1", DropoutRate)
	if err != nil {
		return nil, err
	}
	fc, err := layers.NewSharedMLP(reg, "fc", 32, numClasses, false, false)
	if err != nil {
		return nil, err
	}
	return &Head{FC1: fc1, FC2: fc2, Dropout: dp, FC: fc}, nil
}

// Forward maps [B, N, in] to logits [B, N, C].
func (h *Head) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := h.FC1.Forward(x)
	if err != nil {
		return nil, err
	}
	if x, err = h.FC2.Forward(x); err != nil {
		return nil, err
	}
	if x, err = h.Dropout.Forward(x); err != nil {
		return nil, err
	}
	return h.FC.Forward(x)
}
