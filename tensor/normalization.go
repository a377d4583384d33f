package tensor

import (
	"fmt"
	"math"
)

// BatchNormOp normalizes each channel (last axis) over every leading axis.
// Inputs are x [..., C], gamma [C] and beta [C]. In training mode the batch
// statistics are used and exposed through BatchMean and BatchVar so the
// caller can update its running averages; otherwise RunningMean and
// RunningVar are used.
type BatchNormOp struct {
	Epsilon     float32
	Training    bool
	RunningMean []float32
	RunningVar  []float32

	BatchMean []float32
	BatchVar  []float32

	inputs []*Tensor
	xhat   []float32
	invStd []float32
	rows   int
}

func (op *BatchNormOp) Name() string      { return "BatchNorm" }
func (op *BatchNormOp) Inputs() []*Tensor { return op.inputs }

func (op *BatchNormOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 3 {
		return nil, fmt.Errorf("BatchNormOp requires exactly 3 inputs")
	}
	x, gamma, beta := inputs[0], inputs[1], inputs[2]
	if err := checkFloat32("batch_norm", x, gamma, beta); err != nil {
		return nil, err
	}
	c := x.Dim(-1)
	if gamma.NumElems != c || beta.NumElems != c {
		return nil, &ShapeError{Op: "batch_norm", Want: fmt.Sprintf("[%d] scale and offset", c), Got: gamma.Shape}
	}
	if !op.Training && (len(op.RunningMean) != c || len(op.RunningVar) != c) {
		return nil, fmt.Errorf("batch_norm: running statistics have %d/%d channels, want %d",
			len(op.RunningMean), len(op.RunningVar), c)
	}
	op.inputs = inputs

	rows := 0
	if c > 0 {
		rows = x.NumElems / c
	}
	op.rows = rows
	in := x.Float32s()

	mean, variance := op.RunningMean, op.RunningVar
	if op.Training {
		mean = make([]float32, c)
		variance = make([]float32, c)
		if rows > 0 {
			sums := make([]float64, c)
			for r := 0; r < rows; r++ {
				for j, v := range in[r*c : (r+1)*c] {
					sums[j] += float64(v)
				}
			}
			for j := range sums {
				mean[j] = float32(sums[j] / float64(rows))
				sums[j] = 0
			}
			for r := 0; r < rows; r++ {
				for j, v := range in[r*c : (r+1)*c] {
					d := float64(v - mean[j])
					sums[j] += d * d
				}
			}
			for j := range sums {
				variance[j] = float32(sums[j] / float64(rows))
			}
		}
		op.BatchMean, op.BatchVar = mean, variance
	}

	op.invStd = make([]float32, c)
	for j := range op.invStd {
		op.invStd[j] = float32(1 / math.Sqrt(float64(variance[j]+op.Epsilon)))
	}

	g, b := gamma.Float32s(), beta.Float32s()
	op.xhat = make([]float32, x.NumElems)
	out := make([]float32, x.NumElems)
	for r := 0; r < rows; r++ {
		for j := 0; j < c; j++ {
			k := r*c + j
			op.xhat[k] = (in[k] - mean[j]) * op.invStd[j]
			out[k] = g[j]*op.xhat[k] + b[j]
		}
	}

	result, err := NewTensor(x.Shape, Float32, out)
	if err != nil {
		return nil, err
	}
	return record(op, result)
}

func (op *BatchNormOp) Backward(gradOut *Tensor) []*Tensor {
	x, gamma, beta := op.inputs[0], op.inputs[1], op.inputs[2]
	c := x.Dim(-1)
	dy := gradOut.Float32s()
	g := gamma.Float32s()

	dgamma := make([]float32, c)
	dbeta := make([]float32, c)
	for r := 0; r < op.rows; r++ {
		for j := 0; j < c; j++ {
			k := r*c + j
			dgamma[j] += dy[k] * op.xhat[k]
			dbeta[j] += dy[k]
		}
	}

	grads := make([]*Tensor, 3)
	if x.requiresGrad {
		dx := make([]float32, x.NumElems)
		if op.Training {
			n := float32(op.rows)
			for r := 0; r < op.rows; r++ {
				for j := 0; j < c; j++ {
					k := r*c + j
					// sum(dxhat) = gamma*dbeta, sum(dxhat*xhat) = gamma*dgamma
					dx[k] = g[j] * op.invStd[j] / n * (n*dy[k] - dbeta[j] - op.xhat[k]*dgamma[j])
				}
			}
		} else {
			for r := 0; r < op.rows; r++ {
				for j := 0; j < c; j++ {
					k := r*c + j
					dx[k] = dy[k] * g[j] * op.invStd[j]
				}
			}
		}
		grads[0] = mustFloat32(x.Shape, dx)
	}
	if gamma.requiresGrad {
		grads[1] = mustFloat32(gamma.Shape, dgamma)
	}
	if beta.requiresGrad {
		grads[2] = mustFloat32(beta.Shape, dbeta)
	}
	return grads
}
