package optimizer

import (
	"testing"
)

// TestExtractFloat32Param tests the extractFloat32Param helper function
func TestExtractFloat32Param(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]interface{}
		key          string
		defaultValue float32
		expected     float32
	}{
		{
			name:         "existing_float64_param",
			params:       map[string]interface{}{"learning_rate": float64(0.01)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.01,
		},
		{
			name:         "existing_float32_param",
			params:       map[string]interface{}{"learning_rate": float32(0.02)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.02,
		},
		{
			name:         "missing_param",
			params:       map[string]interface{}{"beta1": float64(0.9)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.001,
		},
		{
			name:         "wrong_type_param",
			params:       map[string]interface{}{"learning_rate": "0.01"},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.001,
		},
		{
			name:         "zero_value",
			params:       map[string]interface{}{"learning_rate": float64(0.0)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractFloat32Param(tt.params, tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("extractFloat32Param() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestExtractBoolParam tests the extractBoolParam helper function
func TestExtractBoolParam(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]interface{}
		expected bool
	}{
		{"bool_true", map[string]interface{}{"nesterov": true}, true},
		{"numeric_one", map[string]interface{}{"nesterov": float64(1)}, true},
		{"numeric_zero", map[string]interface{}{"nesterov": float64(0)}, false},
		{"missing", map[string]interface{}{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBoolParam(tt.params, "nesterov", true); got != tt.expected {
				t.Errorf("extractBoolParam() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestExtractUint64Param tests the extractUint64Param helper function
func TestExtractUint64Param(t *testing.T) {
	if got := extractUint64Param(map[string]interface{}{"step_count": float64(42)}, "step_count", 0); got != 42 {
		t.Errorf("float64 step_count = %d, want 42", got)
	}
	if got := extractUint64Param(map[string]interface{}{"step_count": uint64(7)}, "step_count", 0); got != 7 {
		t.Errorf("uint64 step_count = %d, want 7", got)
	}
	if got := extractUint64Param(map[string]interface{}{}, "step_count", 3); got != 3 {
		t.Errorf("missing step_count = %d, want 3", got)
	}
}

// TestExtractBufferIndex tests buffer index parsing from state names
func TestExtractBufferIndex(t *testing.T) {
	tests := map[string]int{
		"momentum_0":  0,
		"variance_12": 12,
		"momentum":    -1,
		"momentum_x":  -1,
	}
	for name, want := range tests {
		if got := extractBufferIndex(name); got != want {
			t.Errorf("extractBufferIndex(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestRestoreBufferStateSizeMismatch(t *testing.T) {
	buf := make([]float32, 3)
	if err := restoreBufferState(buf, []float32{1, 2}, "momentum_0"); err == nil {
		t.Error("expected size mismatch error")
	}
	if err := restoreBufferState(buf, []float32{1, 2, 3}, "momentum_0"); err != nil {
		t.Fatalf("restoreBufferState failed: %v", err)
	}
	if buf[2] != 3 {
		t.Errorf("buffer = %v, want [1 2 3]", buf)
	}
}
