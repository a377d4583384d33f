package network

import (
	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// DilatedResBlock is the encoder unit: mlp1 (in→out/2) → LFA (→out) →
// mlp2 (→2·out, no activation), plus a shortcut in→2·out, summed and
// passed through leaky ReLU.
type DilatedResBlock struct {
	MLP1     *layers.SharedMLP
	LFA      *BuildingBlock
	MLP2     *layers.SharedMLP
	Shortcut *layers.SharedMLP
}

func NewDilatedResBlock(reg *layers.Registry, name string, in, out int) (*DilatedResBlock, error) {
	mlp1, err := layers.NewSharedMLP(reg, name+"/mlp1", in, out/2, true, true)
	if err != nil {
		return nil, err
	}
	lfa, err := NewBuildingBlock(reg, name+"/LFA", out/2, out)
	if err != nil {
		return nil, err
	}
	mlp2, err := layers.NewSharedMLP(reg, name+"/mlp2", out, 2*out, true, false)
	if err != nil {
		return nil, err
	}
	shortcut, err := layers.NewSharedMLP(reg, name+"/shortcut", in, 2*out, true, false)
	if err != nil {
		return nil, err
	}
	return &DilatedResBlock{MLP1: mlp1, LFA: lfa, MLP2: mlp2, Shortcut: shortcut}, nil
}

// OutputSize is the block's channel count, twice its d_out.
func (r *DilatedResBlock) OutputSize() int { return r.MLP2.OutputSize() }

func (r *DilatedResBlock) Forward(feature, fxyz, neighIdx *tensor.Tensor) (*tensor.Tensor, error) {
	pc, err := r.MLP1.Forward(feature)
	if err != nil {
		return nil, err
	}
	if pc, err = r.LFA.Forward(fxyz, pc, neighIdx); err != nil {
		return nil, err
	}
	if pc, err = r.MLP2.Forward(pc); err != nil {
		return nil, err
	}
	sc, err := r.Shortcut.Forward(feature)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.AddAutograd(pc, sc)
	if err != nil {
		return nil, err
	}
	return tensor.LeakyReLUAutograd(sum)
}
