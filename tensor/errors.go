package tensor

import (
	"fmt"
	"math"
	"sync/atomic"
)

// ShapeError reports a tensor whose shape violates a component contract.
type ShapeError struct {
	Op   string
	Want string
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected shape %s, got %v", e.Op, e.Want, e.Got)
}

// NumericError is returned by an op whose output holds NaN or Inf while
// numeric checking is enabled.
type NumericError struct {
	Op          string
	InputShapes [][]int
	OutputShape []int
	NaNs        int
	Infs        int
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("numeric instability in %s: %d NaN, %d Inf (inputs %v, output %v)",
		e.Op, e.NaNs, e.Infs, e.InputShapes, e.OutputShape)
}

var checkNumerics atomic.Bool

// SetCheckNumerics turns NaN/Inf scanning of every op output on or off.
func SetCheckNumerics(enabled bool) {
	checkNumerics.Store(enabled)
}

// CheckNumericsEnabled reports the current setting.
func CheckNumericsEnabled() bool {
	return checkNumerics.Load()
}

// CountNonFinite returns the number of NaN and Inf values in data.
func CountNonFinite(data []float32) (nans, infs int) {
	for _, v := range data {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			nans++
		case math.IsInf(f, 0):
			infs++
		}
	}
	return nans, infs
}

// AllFinite reports whether a Float32 tensor holds no NaN or Inf.
func (t *Tensor) AllFinite() bool {
	if t.DType != Float32 {
		return true
	}
	nans, infs := CountNonFinite(t.Float32s())
	return nans == 0 && infs == 0
}

func checkOutput(op Operation, out *Tensor) error {
	if !checkNumerics.Load() || out.DType != Float32 {
		return nil
	}
	nans, infs := CountNonFinite(out.Float32s())
	if nans == 0 && infs == 0 {
		return nil
	}
	var shapes [][]int
	for _, in := range op.Inputs() {
		if in != nil {
			shapes = append(shapes, cloneShape(in.Shape))
		}
	}
	return &NumericError{
		Op:          op.Name(),
		InputShapes: shapes,
		OutputShape: cloneShape(out.Shape),
		NaNs:        nans,
		Infs:        infs,
	}
}
