package training

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsawler/waterfall-net/dataset"
	"github.com/tsawler/waterfall-net/network"
	"github.com/tsawler/waterfall-net/tensor"
)

// EvalResult summarises one pass over the validation source.
type EvalResult struct {
	// MeanIoU is the mean of IoU over all classes, in percent.
	MeanIoU float64
	// IoU per class as a fraction; NaN for a class never seen or predicted.
	IoU      []float64
	Accuracy float64
	Seen     int64
	Matrix   *ConfusionMatrix
}

// Evaluate runs inference on up to ValSteps validation batches and logs
// the accuracy and IoU table. The network is left in training mode.
func (t *Trainer) Evaluate(ctx context.Context, s *Session) (*EvalResult, error) {
	t.val.Reset()
	t.net.SetTraining(false)
	defer t.net.SetTraining(true)

	cm := NewConfusionMatrix(t.cfg.NumClasses)
	var correct, seen int64
	for step := 0; step < t.cfg.ValSteps; step++ {
		if step%LogEvery == 0 {
			Logf("%d/%d", step, t.cfg.ValSteps)
		}
		flat, err := t.val.Next(ctx)
		if errors.Is(err, dataset.ErrEndOfEpoch) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("validation batch: %w", err)
		}
		in, err := network.InputsFromFlat(flat, t.cfg.NumLayers)
		if err != nil {
			return nil, err
		}
		logits, err := t.net.Forward(in)
		if err != nil {
			return nil, fmt.Errorf("validation forward: %w", err)
		}
		argmax, err := tensor.ArgMax(logits.Detach())
		if err != nil {
			return nil, err
		}

		labels := in.Labels.Int32s()
		positions, truth := SelectValid(labels, EvalMask(labels, t.cfg.IgnoredLabelInds), t.remap)
		all := argmax.Int32s()
		pred := make([]int32, len(positions))
		for i, p := range positions {
			pred[i] = all[p]
			if pred[i] == truth[i] {
				correct++
			}
		}
		seen += int64(len(positions))
		if err := cm.Add(truth, pred); err != nil {
			return nil, err
		}
	}

	res := &EvalResult{
		IoU:      cm.IoU(),
		Accuracy: float64(correct) / float64(seen),
		Seen:     seen,
		Matrix:   cm,
	}
	meanIoU := cm.GetMetric(MeanIoU)
	res.MeanIoU = 100 * meanIoU

	t.log.Printf("eval accuracy: %v", res.Accuracy)
	t.log.Printf("mean IoU: %v", meanIoU)
	t.log.Printf("Mean IoU = %.1f%%", res.MeanIoU)
	t.log.Printf("%s", IoUTable(res.MeanIoU, res.IoU))
	return res, nil
}

// IoUTable renders the mean IoU (percent) and per-class IoU (fractions)
// as one row framed by dashed lines, followed by an empty line.
func IoUTable(meanPercent float64, iou []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%5.2f | ", meanPercent)
	for _, v := range iou {
		fmt.Fprintf(&b, "%5.2f ", 100*v)
	}
	row := b.String()
	rule := strings.Repeat("-", len(row))
	return rule + "\n" + row + "\n" + rule + "\n"
}
