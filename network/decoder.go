package network

import (
	"fmt"

	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// DecoderStages walks from level 5 back to level 0.
const DecoderStages = 5

var decoderWidths = [DecoderStages]int{128, 128, 64, 32, 32}

// Decoder upsamples the deepest backbone feature one level at a time and
// fuses a skip tensor at every level.
//
//	stage  level  skip
//	0      5→4    backbone2 feature
//	1      4→3    backbone1 feature
//	2      3→2    backbone3 conv1
//	3      2→1    backbone2 conv1
//	4      1→0    backbone1 conv1
type Decoder struct {
	Ups   [DecoderStages]*LearnToUp
	Fuses [DecoderStages]*layers.SharedMLP
}

func newDecoder(reg *layers.Registry, skipWidths [DecoderStages]int) (*Decoder, error) {
	d := &Decoder{}
	in := FeatureChannels
	var err error
	for i := 0; i < DecoderStages; i++ {
		if d.Ups[i], err = NewLearnToUp(reg, fmt.Sprintf("learn_to_up_%d", i)); err != nil {
			return nil, err
		}
		name := fmt.Sprintf("decoder_%d", i)
		if d.Fuses[i], err = layers.NewSharedMLP(reg, name, skipWidths[i]+in, decoderWidths[i], true, true); err != nil {
			return nil, err
		}
		in = decoderWidths[i]
	}
	return d, nil
}

// decoderSkips returns the skip tensor of each decoder stage.
func decoderSkips(b1, b2, b3 *BackboneOutput) [DecoderStages]*tensor.Tensor {
	return [DecoderStages]*tensor.Tensor{b2.Feature, b1.Feature, b3.Conv[0], b2.Conv[0], b1.Conv[0]}
}

// Forward returns per-point features [B, N_0, 32].
func (d *Decoder) Forward(in *Inputs, b1, b2, b3 *BackboneOutput) (*tensor.Tensor, error) {
	skips := decoderSkips(b1, b2, b3)
	x := b3.Feature
	for i := 0; i < DecoderStages; i++ {
		level := DecoderStages - 1 - i
		up, err := d.Ups[i].Forward(in.XYZ[level], in.SubXYZ[level], x, in.InterpIdx[level])
		if err != nil {
			return nil, fmt.Errorf("decoder stage %d upsample: %w", i, err)
		}
		cat, err := tensor.ConcatAutograd(skips[i], up)
		if err != nil {
			return nil, fmt.Errorf("decoder stage %d concat: %w", i, err)
		}
		if x, err = d.Fuses[i].Forward(cat); err != nil {
			return nil, fmt.Errorf("decoder stage %d: %w", i, err)
		}
	}
	return x, nil
}
