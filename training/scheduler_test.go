package training

import (
	"math"
	"testing"
)

func TestEpochDecayScheduler(t *testing.T) {
	constant := NewEpochDecayScheduler(func(int) float64 { return 0.5 })
	overrides := map[int]float64{2: 0.1}
	mixed := NewEpochDecayScheduler(func(e int) float64 {
		if d, ok := overrides[e]; ok {
			return d
		}
		return 0.9
	})

	tests := []struct {
		name       string
		scheduler  *EpochDecayScheduler
		epoch      int
		expectedLR float64
	}{
		{"initial", constant, 0, 0.01},
		{"one epoch halves", constant, 1, 0.005},
		{"two epochs", constant, 2, 0.0025},
		{"default factor", mixed, 1, 0.009},
		{"override", mixed, 2, 0.0009},
		{"after override", mixed, 3, 0.00081},
	}
	for _, tt := range tests {
		lr := tt.scheduler.GetLR(tt.epoch, 0, 0.01)
		if math.Abs(lr-tt.expectedLR) > 1e-12 {
			t.Errorf("%s: epoch %d: expected LR %g, got %g", tt.name, tt.epoch, tt.expectedLR, lr)
		}
	}
	if constant.GetName() != "EpochDecay" {
		t.Errorf("GetName() = %s", constant.GetName())
	}
}
