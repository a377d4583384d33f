package network

import (
	"fmt"

	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// RequiredLayers is the pyramid depth the three-backbone cascade is wired
// for: backbone3 and the first decoder stage reach level 5.
const RequiredLayers = 5

// Config holds the construction parameters of a Network.
type Config struct {
	NumLayers   int
	NumClasses  int
	NumFeatures int
	Seed        int64
}

// Network is the waterfall segmentation model: an input projection, three
// cross-fused backbones, a five-stage decoder and a classification head.
// All parameters live in its Registry.
type Network struct {
	cfg       Config
	reg       *layers.Registry
	FC0       *layers.SharedMLP
	Backbones [3]*Backbone
	Decoder   *Decoder
	Head      *Head
}

// New builds the model and registers every parameter.
func New(cfg Config) (*Network, error) {
	if cfg.NumLayers != RequiredLayers {
		return nil, fmt.Errorf("network: num_layers must be %d, got %d", RequiredLayers, cfg.NumLayers)
	}
	if cfg.NumClasses < 1 {
		return nil, fmt.Errorf("network: num_classes must be positive, got %d", cfg.NumClasses)
	}
	if cfg.NumFeatures < 1 {
		return nil, fmt.Errorf("network: num_features must be positive, got %d", cfg.NumFeatures)
	}

	reg := layers.NewRegistry(cfg.Seed)
	net := &Network{cfg: cfg, reg: reg}

	var err error
	if net.FC0, err = layers.NewSharedMLP(reg, "fc0", cfg.NumFeatures, 8, true, true); err != nil {
		return nil, err
	}
	var prev *Backbone
	for i := range net.Backbones {
		if net.Backbones[i], err = newBackbone(reg, i+1, net.FC0.OutputSize(), prev); err != nil {
			return nil, err
		}
		prev = net.Backbones[i]
	}

	b := net.Backbones
	skipWidths := [DecoderStages]int{
		FeatureChannels,
		FeatureChannels,
		b[2].Stages[0].OutputSize(),
		b[1].Stages[0].OutputSize(),
		b[0].Stages[0].OutputSize(),
	}
	if net.Decoder, err = newDecoder(reg, skipWidths); err != nil {
		return nil, err
	}
	if net.Head, err = newHead(reg, decoderWidths[DecoderStages-1], cfg.NumClasses); err != nil {
		return nil, err
	}
	return net, nil
}

func (net *Network) Config() Config { return net.cfg }

// Registry returns the parameter registry.
func (net *Network) Registry() *layers.Registry { return net.reg }

// SetTraining switches batch norm and dropout between training and
// inference behavior.
func (net *Network) SetTraining(training bool) { net.reg.SetTraining(training) }

// NumParameters returns the total number of trainable scalars.
func (net *Network) NumParameters() int64 { return net.reg.NumParameters() }

// Forward computes per-point logits [B, N_0, NumClasses].
func (net *Network) Forward(in *Inputs) (*tensor.Tensor, error) {
	if in.NumLayers() != net.cfg.NumLayers {
		return nil, fmt.Errorf("network: inputs have %d levels, model expects %d", in.NumLayers(), net.cfg.NumLayers)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if d := in.Features.Dim(-1); d != net.cfg.NumFeatures {
		return nil, &tensor.ShapeError{Op: "network features", Want: fmt.Sprintf("[B, N, %d]", net.cfg.NumFeatures), Got: in.Features.Shape}
	}

	feature, err := net.FC0.Forward(in.Features)
	if err != nil {
		return nil, err
	}

	fxyz := make([]*tensor.Tensor, in.NumLayers())
	for l := range fxyz {
		if fxyz[l], err = RelativePosEncoding(in.XYZ[l], in.NeighIdx[l]); err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
	}

	b1, err := net.Backbones[0].Forward(in, fxyz, feature, nil, nil)
	if err != nil {
		return nil, err
	}
	b2, err := net.Backbones[1].Forward(in, fxyz, nil, b1, in.Backbone1)
	if err != nil {
		return nil, err
	}
	b3, err := net.Backbones[2].Forward(in, fxyz, nil, b2, in.Backbone2)
	if err != nil {
		return nil, err
	}

	x, err := net.Decoder.Forward(in, b1, b2, b3)
	if err != nil {
		return nil, err
	}
	logits, err := net.Head.Forward(x)
	if err != nil {
		return nil, err
	}
	if err := expectShape("network output", logits, tensor.Float32, in.BatchSize(), in.NumPoints(0), net.cfg.NumClasses); err != nil {
		return nil, err
	}
	return logits, nil
}

// Probabilities applies softmax over the class axis of logits.
func Probabilities(logits *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.SoftmaxAutograd(logits.Detach(), -1)
}
