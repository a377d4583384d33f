package layers

import (
	"fmt"

	"github.com/tsawler/waterfall-net/tensor"
)

const (
	DefaultBNMomentum = 0.99
	DefaultBNEpsilon  = 1e-6
)

// BatchNormLayer normalizes the last axis. In training mode it uses batch
// statistics and folds them into the running averages with
// running = momentum*running + (1-momentum)*batch.
type BatchNormLayer struct {
	Name        string
	Gamma       *tensor.Tensor
	Beta        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
	Momentum    float32
	Epsilon     float32

	reg *Registry
}

func NewBatchNorm(reg *Registry, name string, channels int) (*BatchNormLayer, error) {
	gamma, err := reg.newParam(name+"/gamma", []int{channels}, func(d []float32) {
		for i := range d {
			d[i] = 1
		}
	})
	if err != nil {
		return nil, err
	}
	beta, err := reg.newParam(name+"/beta", []int{channels}, nil)
	if err != nil {
		return nil, err
	}
	mean, err := reg.newBuffer(name+"/moving_mean", []int{channels}, 0)
	if err != nil {
		return nil, err
	}
	variance, err := reg.newBuffer(name+"/moving_variance", []int{channels}, 1)
	if err != nil {
		return nil, err
	}

	reg.addSpec(LayerSpec{
		Type: BatchNorm,
		Name: name,
		Parameters: map[string]interface{}{
			"num_features": channels,
			"momentum":     DefaultBNMomentum,
			"eps":          DefaultBNEpsilon,
		},
		ParameterShapes: [][]int{{channels}, {channels}},
		ParameterCount:  int64(2 * channels),
	})

	return &BatchNormLayer{
		Name:        name,
		Gamma:       gamma,
		Beta:        beta,
		RunningMean: mean,
		RunningVar:  variance,
		Momentum:    DefaultBNMomentum,
		Epsilon:     DefaultBNEpsilon,
		reg:         reg,
	}, nil
}

func (bn *BatchNormLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	training := bn.reg.Training()
	op := &tensor.BatchNormOp{
		Epsilon:     bn.Epsilon,
		Training:    training,
		RunningMean: bn.RunningMean.Float32s(),
		RunningVar:  bn.RunningVar.Float32s(),
	}
	y, err := op.Forward(x, bn.Gamma, bn.Beta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", bn.Name, err)
	}
	if training && x.NumElems > 0 {
		m := bn.Momentum
		mean, variance := bn.RunningMean.Float32s(), bn.RunningVar.Float32s()
		for j := range mean {
			mean[j] = m*mean[j] + (1-m)*op.BatchMean[j]
			variance[j] = m*variance[j] + (1-m)*op.BatchVar[j]
		}
	}
	return y, nil
}
