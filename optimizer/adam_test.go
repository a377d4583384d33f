package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/waterfall-net/layers"
	"github.com/tsawler/waterfall-net/tensor"
)

// quadratic returns a parameter w and sets its gradient to that of
// sum((w - target)^2).
func quadratic(t *testing.T, w, target []float32) layers.NamedTensor {
	t.Helper()
	p, err := tensor.FromFloat32([]int{len(w)}, w)
	if err != nil {
		t.Fatal(err)
	}
	p.SetRequiresGrad(true)
	setQuadraticGrad(t, p, target)
	return layers.NamedTensor{Name: "w", Tensor: p}
}

func setQuadraticGrad(t *testing.T, p *tensor.Tensor, target []float32) {
	t.Helper()
	tgt, _ := tensor.FromFloat32(p.Shape, target)
	diff, err := tensor.SubAutograd(p, tgt)
	if err != nil {
		t.Fatal(err)
	}
	sq, err := tensor.MulAutograd(diff, diff)
	if err != nil {
		t.Fatal(err)
	}
	loss, err := tensor.SumAutograd(sq, 0)
	if err != nil {
		t.Fatal(err)
	}
	tensor.ZeroGrad([]*tensor.Tensor{p})
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
}

// TestAdamConfig tests the Adam configuration
func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 {
		t.Errorf("Expected beta1 0.9, got %f", config.Beta1)
	}
	if config.Beta2 != 0.999 {
		t.Errorf("Expected beta2 0.999, got %f", config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %f", config.Epsilon)
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := quadratic(t, []float32{1, -2}, []float32{0, 0})
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	adam, err := NewAdamOptimizer(cfg, []layers.NamedTensor{p})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// The first bias-corrected update is lr·sign(g).
	got := p.Tensor.Float32s()
	want := []float32{0.9, -1.9}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("w[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if adam.GetStepCount() != 1 {
		t.Errorf("step count = %d, want 1", adam.GetStepCount())
	}
}

func TestAdamConverges(t *testing.T) {
	target := []float32{0.5, -1.5, 3}
	p := quadratic(t, []float32{0, 0, 0}, target)
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.05
	adam, err := NewAdamOptimizer(cfg, []layers.NamedTensor{p})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2000; i++ {
		setQuadraticGrad(t, p.Tensor, target)
		if err := adam.Step(); err != nil {
			t.Fatal(err)
		}
	}
	for i, w := range p.Tensor.Float32s() {
		if math.Abs(float64(w-target[i])) > 5e-2 {
			t.Errorf("w[%d] = %v, want %v", i, w, target[i])
		}
	}
}

func TestAdamSkipsParametersWithoutGradient(t *testing.T) {
	w, _ := tensor.FromFloat32([]int{2}, []float32{1, 2})
	w.SetRequiresGrad(true)
	adam, err := NewAdamOptimizer(DefaultAdamConfig(), []layers.NamedTensor{{Name: "w", Tensor: w}})
	if err != nil {
		t.Fatal(err)
	}
	if err := adam.Step(); err != nil {
		t.Fatal(err)
	}
	if got := w.Float32s(); got[0] != 1 || got[1] != 2 {
		t.Errorf("untouched parameter changed to %v", got)
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := quadratic(t, []float32{1, 2, 3}, []float32{0, 0, 0})
	adam, err := NewAdamOptimizer(DefaultAdamConfig(), []layers.NamedTensor{p})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := adam.Step(); err != nil {
			t.Fatal(err)
		}
	}
	state, err := adam.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("state tensors = %d, want 2", len(state.StateData))
	}

	fresh, _ := NewAdamOptimizer(DefaultAdamConfig(), []layers.NamedTensor{p})
	if err := fresh.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if fresh.GetStepCount() != 3 {
		t.Errorf("restored step count = %d, want 3", fresh.GetStepCount())
	}
	for i := range adam.MomentumBuffers[0] {
		if fresh.MomentumBuffers[0][i] != adam.MomentumBuffers[0][i] ||
			fresh.VarianceBuffers[0][i] != adam.VarianceBuffers[0][i] {
			t.Fatalf("restored moments differ at %d", i)
		}
	}

	state.Type = "SGD"
	if err := fresh.LoadState(state); err == nil {
		t.Error("expected state type mismatch")
	}
}

func TestAdamRejectsBadConfig(t *testing.T) {
	p := quadratic(t, []float32{1}, []float32{0})
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0
	if _, err := NewAdamOptimizer(cfg, []layers.NamedTensor{p}); err == nil {
		t.Error("expected error for zero learning rate")
	}
	if _, err := NewAdamOptimizer(DefaultAdamConfig(), nil); err == nil {
		t.Error("expected error for empty parameter list")
	}
}

func TestOptimizerInterface(t *testing.T) {
	p := quadratic(t, []float32{1}, []float32{0})
	adam, _ := NewAdamOptimizer(DefaultAdamConfig(), []layers.NamedTensor{p})
	sgd, _ := NewSGDOptimizer(DefaultSGDConfig(), []layers.NamedTensor{p})
	for _, opt := range []Optimizer{adam, sgd} {
		opt.UpdateLearningRate(0.5)
		if opt.GetLearningRate() != 0.5 {
			t.Errorf("%T learning rate = %v, want 0.5", opt, opt.GetLearningRate())
		}
	}
}
