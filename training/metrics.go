package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// MetricType names a scalar derived from a confusion matrix.
type MetricType int

const (
	OverallAccuracy MetricType = iota
	MacroPrecision
	MacroRecall
	MacroF1
	MeanIoU
)

func (mt MetricType) String() string {
	switch mt {
	case OverallAccuracy:
		return "OverallAccuracy"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MeanIoU:
		return "MeanIoU"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix accumulates point predictions for a segmentation task.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int64 // [true_class][predicted_class]
	TotalSamples int64

	cachedMetrics map[MetricType]float64
	metricsValid  bool
}

// NewConfusionMatrix creates a zeroed numClasses x numClasses matrix.
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int64, numClasses)
	for i := range matrix {
		matrix[i] = make([]int64, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses:    numClasses,
		Matrix:        matrix,
		cachedMetrics: make(map[MetricType]float64),
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.metricsValid = false
	cm.cachedMetrics = make(map[MetricType]float64)
}

// Add counts one (truth, prediction) pair per element. Pairs with a
// class outside [0, NumClasses) are skipped.
func (cm *ConfusionMatrix) Add(truth, pred []int32) error {
	if len(truth) != len(pred) {
		return fmt.Errorf("confusion matrix: %d labels but %d predictions", len(truth), len(pred))
	}
	for i, t := range truth {
		p := pred[i]
		if t < 0 || int(t) >= cm.NumClasses || p < 0 || int(p) >= cm.NumClasses {
			continue
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}
	cm.metricsValid = false
	return nil
}

// Merge adds the counts of other into cm.
func (cm *ConfusionMatrix) Merge(other *ConfusionMatrix) error {
	if other.NumClasses != cm.NumClasses {
		return fmt.Errorf("confusion matrix: cannot merge %d classes into %d", other.NumClasses, cm.NumClasses)
	}
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] += other.Matrix[i][j]
		}
	}
	cm.TotalSamples += other.TotalSamples
	cm.metricsValid = false
	return nil
}

// rowSum is the ground-truth count of class c.
func (cm *ConfusionMatrix) rowSum(c int) float64 {
	var s int64
	for _, v := range cm.Matrix[c] {
		s += v
	}
	return float64(s)
}

// colSum is the predicted count of class c.
func (cm *ConfusionMatrix) colSum(c int) float64 {
	var s int64
	for i := range cm.Matrix {
		s += cm.Matrix[i][c]
	}
	return float64(s)
}

// IoU returns TP / (GT + Pred - TP) per class. A class that is neither
// present nor predicted yields NaN.
func (cm *ConfusionMatrix) IoU() []float64 {
	iou := make([]float64, cm.NumClasses)
	for c := range iou {
		tp := float64(cm.Matrix[c][c])
		iou[c] = tp / (cm.rowSum(c) + cm.colSum(c) - tp)
	}
	return iou
}

// GetMetric calculates and caches evaluation metrics.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if !cm.metricsValid {
		cm.cachedMetrics = make(map[MetricType]float64)
		cm.metricsValid = true
	}
	if value, ok := cm.cachedMetrics[metric]; ok {
		return value
	}

	var result float64
	switch metric {
	case OverallAccuracy:
		result = cm.calculateAccuracy()
	case MacroPrecision:
		result = cm.calculateMacroPrecision()
	case MacroRecall:
		result = cm.calculateMacroRecall()
	case MacroF1:
		result = cm.calculateMacroF1()
	case MeanIoU:
		result = floats.Sum(cm.IoU()) / float64(cm.NumClasses)
	default:
		return 0.0
	}
	cm.cachedMetrics[metric] = result
	return result
}

func (cm *ConfusionMatrix) calculateAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	var correct int64
	for c := 0; c < cm.NumClasses; c++ {
		correct += cm.Matrix[c][c]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// Macro averages skip classes whose denominator is zero.
func (cm *ConfusionMatrix) calculateMacroPrecision() float64 {
	sum, valid := 0.0, 0
	for c := 0; c < cm.NumClasses; c++ {
		if pred := cm.colSum(c); pred > 0 {
			sum += float64(cm.Matrix[c][c]) / pred
			valid++
		}
	}
	if valid == 0 {
		return 0.0
	}
	return sum / float64(valid)
}

func (cm *ConfusionMatrix) calculateMacroRecall() float64 {
	sum, valid := 0.0, 0
	for c := 0; c < cm.NumClasses; c++ {
		if gt := cm.rowSum(c); gt > 0 {
			sum += float64(cm.Matrix[c][c]) / gt
			valid++
		}
	}
	if valid == 0 {
		return 0.0
	}
	return sum / float64(valid)
}

func (cm *ConfusionMatrix) calculateMacroF1() float64 {
	sum, valid := 0.0, 0
	for c := 0; c < cm.NumClasses; c++ {
		tp := float64(cm.Matrix[c][c])
		denom := cm.rowSum(c) + cm.colSum(c)
		if denom > 0 {
			sum += 2 * tp / denom
			valid++
		}
	}
	if valid == 0 {
		return 0.0
	}
	return sum / float64(valid)
}
