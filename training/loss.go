package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/waterfall-net/tensor"
)

// ClassWeights turns per-class point counts into loss weights
// 1/(frequency + 0.02). With no counts every class weighs 1.
func ClassWeights(counts []int64, numClasses int) ([]float32, error) {
	w := make([]float32, numClasses)
	if len(counts) == 0 {
		for i := range w {
			w[i] = 1
		}
		return w, nil
	}
	if len(counts) != numClasses {
		return nil, fmt.Errorf("class counts: got %d entries for %d classes", len(counts), numClasses)
	}
	freq := make([]float64, numClasses)
	for i, c := range counts {
		freq[i] = float64(c)
	}
	total := floats.Sum(freq)
	if total <= 0 {
		return nil, fmt.Errorf("class counts sum to %v", total)
	}
	floats.Scale(1/total, freq)
	floats.AddConst(0.02, freq)
	for i, f := range freq {
		w[i] = float32(1 / f)
	}
	return w, nil
}

// WeightedCrossEntropyOp is softmax cross-entropy over selected points,
// each weighted by its class weight and averaged over the selection.
// Its input is the full logits tensor [..., C]; Positions index the flat
// rows that take part and Labels holds their classes.
type WeightedCrossEntropyOp struct {
	Positions []int
	Labels    []int32
	Weights   []float32

	inputs []*tensor.Tensor
	probs  []float32 // softmax of the selected rows, len(Positions)·C
}

func (op *WeightedCrossEntropyOp) Name() string             { return "WeightedCrossEntropy" }
func (op *WeightedCrossEntropyOp) Inputs() []*tensor.Tensor { return op.inputs }

func (op *WeightedCrossEntropyOp) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("WeightedCrossEntropyOp requires exactly 1 input")
	}
	logits := inputs[0]
	if logits.DType != tensor.Float32 || logits.Rank() < 1 {
		return nil, fmt.Errorf("weighted cross entropy: expected float32 logits, got %s %v", logits.DType, logits.Shape)
	}
	c := logits.Dim(-1)
	if len(op.Weights) != c {
		return nil, fmt.Errorf("weighted cross entropy: %d class weights for %d classes", len(op.Weights), c)
	}
	if len(op.Positions) != len(op.Labels) {
		return nil, fmt.Errorf("weighted cross entropy: %d positions but %d labels", len(op.Positions), len(op.Labels))
	}
	rows := logits.NumElems / c
	op.inputs = inputs

	data := logits.Float32s()
	op.probs = make([]float32, len(op.Positions)*c)
	var total float64
	for i, pos := range op.Positions {
		label := int(op.Labels[i])
		if pos < 0 || pos >= rows || label < 0 || label >= c {
			return nil, fmt.Errorf("weighted cross entropy: point %d (row %d, label %d) out of range", i, pos, label)
		}
		row := data[pos*c : (pos+1)*c]
		p := op.probs[i*c : (i+1)*c]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - maxV))
			p[j] = float32(e)
			sum += e
		}
		for j := range p {
			p[j] = float32(float64(p[j]) / sum)
		}
		logProb := float64(row[label]-maxV) - math.Log(sum)
		total += -logProb * float64(op.Weights[label])
	}

	var loss float32
	if n := len(op.Positions); n > 0 {
		loss = float32(total / float64(n))
	}
	out, err := tensor.FromFloat32([]int{1}, []float32{loss})
	if err != nil {
		return nil, err
	}
	return tensor.Record(op, out)
}

// Backward yields (softmax - onehot)·w_label/M on selected rows and zero
// elsewhere.
func (op *WeightedCrossEntropyOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	logits := op.inputs[0]
	c := logits.Dim(-1)
	grad := make([]float32, logits.NumElems)
	if n := len(op.Positions); n > 0 {
		scale := gradOut.Float32s()[0] / float32(n)
		for i, pos := range op.Positions {
			label := int(op.Labels[i])
			w := op.Weights[label] * scale
			g := grad[pos*c : (pos+1)*c]
			p := op.probs[i*c : (i+1)*c]
			for j := range g {
				g[j] += p[j] * w
			}
			g[label] -= w
		}
	}
	out, _ := tensor.FromFloat32(logits.Shape, grad)
	return []*tensor.Tensor{out}
}

// WeightedCrossEntropy returns the scalar loss [1] over the selected
// points of logits. An empty selection gives a zero loss.
func WeightedCrossEntropy(logits *tensor.Tensor, positions []int, labels []int32, weights []float32) (*tensor.Tensor, error) {
	op := &WeightedCrossEntropyOp{Positions: positions, Labels: labels, Weights: weights}
	return op.Forward(logits)
}

// TopOneAccuracy is the fraction of selected points whose largest logit
// is at their label. It returns 0 for an empty selection.
func TopOneAccuracy(logits *tensor.Tensor, positions []int, labels []int32) float64 {
	if len(positions) == 0 {
		return 0
	}
	c := logits.Dim(-1)
	data := logits.Float32s()
	correct := 0
	for i, pos := range positions {
		row := data[pos*c : (pos+1)*c]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if best == int(labels[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(positions))
}
