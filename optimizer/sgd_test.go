package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/waterfall-net/layers"
)

func TestSGDStep(t *testing.T) {
	p := quadratic(t, []float32{1, -1}, []float32{0, 0})
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.25}, []layers.NamedTensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}
	if err := sgd.Step(); err != nil {
		t.Fatal(err)
	}
	// grad = 2w, so w ← w - 0.25·2w = w/2
	got := p.Tensor.Float32s()
	if got[0] != 0.5 || got[1] != -0.5 {
		t.Errorf("w = %v, want [0.5 -0.5]", got)
	}
}

func TestSGDMomentumState(t *testing.T) {
	target := []float32{2}
	p := quadratic(t, []float32{0}, target)
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.05, Momentum: 0.9}, []layers.NamedTensor{p})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 300; i++ {
		setQuadraticGrad(t, p.Tensor, target)
		if err := sgd.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if w := p.Tensor.Float32s()[0]; math.Abs(float64(w-2)) > 1e-2 {
		t.Errorf("w = %v, want 2", w)
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatal(err)
	}
	fresh, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.05, Momentum: 0.9}, []layers.NamedTensor{p})
	if err := fresh.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if fresh.MomentumBuffers[0][0] != sgd.MomentumBuffers[0][0] {
		t.Error("momentum not restored")
	}
}

func TestSGDConfigValidation(t *testing.T) {
	p := quadratic(t, []float32{1}, []float32{0})
	for _, cfg := range []SGDConfig{
		{LearningRate: -1},
		{LearningRate: 0.1, Momentum: -0.1},
		{LearningRate: 0.1, Momentum: 1.5},
		{LearningRate: 0.1, WeightDecay: -1},
	} {
		if _, err := NewSGDOptimizer(cfg, []layers.NamedTensor{p}); err == nil {
			t.Errorf("NewSGDOptimizer(%+v) should fail", cfg)
		}
	}
}
