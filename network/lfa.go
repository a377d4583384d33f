package network

import (
	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// BuildingBlock is the local feature aggregation unit. Each of its two
// rounds projects the position encoding, gathers neighbor features,
// concatenates the two and attentive-pools the result. The second round
// projects the first round's encoding further rather than the raw one.
type BuildingBlock struct {
	PosMLP1 *layers.SharedMLP
	Att1    *AttentivePooling
	PosMLP2 *layers.SharedMLP
	Att2    *AttentivePooling
	in, out int
}

func NewBuildingBlock(reg *layers.Registry, name string, in, out int) (*BuildingBlock, error) {
	half := out / 2
	pos1, err := layers.NewSharedMLP(reg, name+"/mlp1", RelPosChannels, in, true, true)
	if err != nil {
		return nil, err
	}
	att1, err := NewAttentivePooling(reg, name+"/att_pooling_1", 2*in, half)
	if err != nil {
		return nil, err
	}
	pos2, err := layers.NewSharedMLP(reg, name+"/mlp2", in, half, true, true)
	if err != nil {
		return nil, err
	}
	att2, err := NewAttentivePooling(reg, name+"/att_pooling_2", 2*half, out)
	if err != nil {
		return nil, err
	}
	return &BuildingBlock{PosMLP1: pos1, Att1: att1, PosMLP2: pos2, Att2: att2, in: in, out: out}, nil
}

// Forward maps feature [B, N, in] to [B, N, out] given the level's
// encoding fxyz [B, N, k, 10] and neighIdx [B, N, k].
func (bb *BuildingBlock) Forward(fxyz, feature, neighIdx *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectShape("building_block", feature, tensor.Float32, anyDim, anyDim, bb.in); err != nil {
		return nil, err
	}
	b, n := feature.Shape[0], feature.Shape[1]
	if err := expectShape("building_block encoding", fxyz, tensor.Float32, b, n, anyDim, RelPosChannels); err != nil {
		return nil, err
	}

	pos, err := bb.PosMLP1.Forward(fxyz)
	if err != nil {
		return nil, err
	}
	agg, err := bb.round(bb.Att1, pos, feature, neighIdx)
	if err != nil {
		return nil, err
	}

	pos, err = bb.PosMLP2.Forward(pos)
	if err != nil {
		return nil, err
	}
	return bb.round(bb.Att2, pos, agg, neighIdx)
}

func (bb *BuildingBlock) round(att *AttentivePooling, pos, feature, neighIdx *tensor.Tensor) (*tensor.Tensor, error) {
	neigh, err := GatherNeighbour(feature, neighIdx)
	if err != nil {
		return nil, err
	}
	set, err := tensor.ConcatAutograd(neigh, pos)
	if err != nil {
		return nil, err
	}
	return att.Forward(set)
}
