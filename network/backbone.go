package network

import (
	"fmt"

	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// BackboneStages is the number of residual+downsample stages per backbone.
const BackboneStages = 3

var stageWidths = [BackboneStages]int{16, 32, 64}

// BackboneOutput holds the tensors later stages pull from a backbone:
// the residual block output of each stage (at levels base..base+2) and the
// 128-channel projection at level base+3.
type BackboneOutput struct {
	Conv    [BackboneStages]*tensor.Tensor
	Feature *tensor.Tensor
}

// Backbone is one encoder cascade starting at pyramid level Base. Every
// backbone but the first opens by upsampling the previous backbone's
// feature through a bridge index and fuses the previous backbone's deeper
// outputs before each of its stages.
type Backbone struct {
	Name   string
	Base   int
	Up     *LearnToUp
	Fuse   [BackboneStages]*layers.SharedMLP
	Stages [BackboneStages]*DilatedResBlock
	Proj   *layers.SharedMLP
}

// FeatureChannels is the width of every backbone projection.
const FeatureChannels = 128

// newBackbone builds backbone index (1-based) on top of prev, which is nil
// for the first backbone. in is the channel count entering the first
// stage of the first backbone.
func newBackbone(reg *layers.Registry, index, in int, prev *Backbone) (*Backbone, error) {
	bb := &Backbone{Name: fmt.Sprintf("backbone%d", index), Base: index - 1}
	stageName := func(s int) string {
		if index == 1 {
			return fmt.Sprintf("backbone1_%dconv", s+1)
		}
		return fmt.Sprintf("backbone_%d_%dconv", index, s+1)
	}

	var err error
	if prev != nil {
		if bb.Up, err = NewLearnToUp(reg, fmt.Sprintf("%s_up", prev.Name)); err != nil {
			return nil, err
		}
		fuseIn := [BackboneStages]int{
			prev.Stages[1].OutputSize() + FeatureChannels,
			2*stageWidths[0] + prev.Stages[2].OutputSize(),
			2*stageWidths[1] + FeatureChannels,
		}
		fuseOut := [BackboneStages]int{32, 32, 64}
		for s := 0; s < BackboneStages; s++ {
			name := fmt.Sprintf("fuse%d_%d", index, s+1)
			if bb.Fuse[s], err = layers.NewSharedMLP(reg, name, fuseIn[s], fuseOut[s], true, true); err != nil {
				return nil, err
			}
		}
	}

	for s := 0; s < BackboneStages; s++ {
		stageIn := in
		switch {
		case prev != nil:
			stageIn = bb.Fuse[s].OutputSize()
		case s > 0:
			stageIn = bb.Stages[s-1].OutputSize()
		}
		if bb.Stages[s], err = NewDilatedResBlock(reg, stageName(s), stageIn, stageWidths[s]); err != nil {
			return nil, err
		}
	}

	last := bb.Stages[BackboneStages-1].OutputSize()
	if bb.Proj, err = layers.NewSharedMLP(reg, bb.Name, last, FeatureChannels, true, true); err != nil {
		return nil, err
	}
	return bb, nil
}

// Forward runs the cascade. feature is the input at level Base for the
// first backbone; later backbones ignore it and start from prev and
// bridge instead.
func (bb *Backbone) Forward(in *Inputs, fxyz []*tensor.Tensor, feature *tensor.Tensor, prev *BackboneOutput, bridge *tensor.Tensor) (*BackboneOutput, error) {
	out := &BackboneOutput{}
	x := feature
	var down *tensor.Tensor
	for s := 0; s < BackboneStages; s++ {
		level := bb.Base + s
		if bb.Up != nil {
			fused, err := bb.fuse(in, s, down, prev, bridge)
			if err != nil {
				return nil, fmt.Errorf("%s fuse %d: %w", bb.Name, s+1, err)
			}
			x = fused
		} else if s > 0 {
			x = down
		}

		conv, err := bb.Stages[s].Forward(x, fxyz[level], in.NeighIdx[level])
		if err != nil {
			return nil, fmt.Errorf("%s stage %d: %w", bb.Name, s+1, err)
		}
		if down, err = RandomSample(conv, in.SubIdx[level]); err != nil {
			return nil, fmt.Errorf("%s stage %d downsample: %w", bb.Name, s+1, err)
		}
		out.Conv[s] = conv
	}

	feat, err := bb.Proj.Forward(down)
	if err != nil {
		return nil, fmt.Errorf("%s projection: %w", bb.Name, err)
	}
	out.Feature = feat
	return out, nil
}

// fuse builds the input of stage s from this backbone's previous
// downsampled output and the previous backbone's features at the same
// level.
func (bb *Backbone) fuse(in *Inputs, s int, down *tensor.Tensor, prev *BackboneOutput, bridge *tensor.Tensor) (*tensor.Tensor, error) {
	var parts []*tensor.Tensor
	switch s {
	case 0:
		up, err := bb.Up.Forward(in.XYZ[bb.Base], in.XYZ[bb.Base+2], prev.Feature, bridge)
		if err != nil {
			return nil, err
		}
		parts = []*tensor.Tensor{prev.Conv[1], up}
	case 1:
		parts = []*tensor.Tensor{down, prev.Conv[2]}
	default:
		parts = []*tensor.Tensor{down, prev.Feature}
	}
	cat, err := tensor.ConcatAutograd(parts...)
	if err != nil {
		return nil, err
	}
	return bb.Fuse[s].Forward(cat)
}
