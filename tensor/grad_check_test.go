package tensor

import (
	"math"
	"math/rand"
	"testing"
)

// weightedSum returns sum(out * w) as a scalar graph node.
func weightedSum(t *testing.T, out, w *Tensor) *Tensor {
	t.Helper()
	prod, err := MulAutograd(out, w)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	flat, err := ReshapeAutograd(prod, []int{-1})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	s, err := SumAutograd(flat, 0)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	return s
}

func plainWeightedSum(out, w *Tensor) float64 {
	var s float64
	a, b := out.Float32s(), w.Float32s()
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// checkGradients compares the autograd gradient of sum(f(xs) * w) with
// respect to each of xs against central finite differences.
func checkGradients(t *testing.T, f func() (*Tensor, error), xs ...*Tensor) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	for _, x := range xs {
		x.SetRequiresGrad(true)
		x.grad = nil
	}
	out, err := f()
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	w, _ := RandomUniform(out.Shape, -1, 1, rng)
	loss := weightedSum(t, out, w)
	if err := loss.Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-2
	for n, x := range xs {
		if x.Grad() == nil {
			t.Fatalf("input %d: no gradient", n)
		}
		analytic := x.Grad().Float32s()
		data := x.Float32s()
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			up, err := f()
			if err != nil {
				t.Fatalf("forward (+eps): %v", err)
			}
			lu := plainWeightedSum(up, w)
			data[i] = orig - eps
			down, err := f()
			if err != nil {
				t.Fatalf("forward (-eps): %v", err)
			}
			ld := plainWeightedSum(down, w)
			data[i] = orig

			numeric := (lu - ld) / (2 * eps)
			got := float64(analytic[i])
			tol := 2e-2 * math.Max(1, math.Abs(numeric))
			if math.Abs(numeric-got) > tol {
				t.Errorf("input %d element %d: analytic %.5f, numeric %.5f", n, i, got, numeric)
			}
		}
	}
}
