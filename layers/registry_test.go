package layers

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/tsawler/waterfall-net/tensor"
)

func TestRegistryKeysAndCounts(t *testing.T) {
	reg := NewRegistry(1)
	if _, err := NewSharedMLP(reg, "fc0", 6, 8, true, true); err != nil {
		t.Fatalf("NewSharedMLP failed: %v", err)
	}
	if _, err := NewLinear(reg, "att/fc", 8, 8, false); err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	var names []string
	for _, p := range reg.NamedParameters() {
		names = append(names, p.Name)
	}
	want := []string{"fc0/weights", "fc0/biases", "fc0/bn/gamma", "fc0/bn/beta", "att/fc/weights"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("parameter keys = %v, want %v", names, want)
	}
	if got := len(reg.NamedBuffers()); got != 2 {
		t.Errorf("buffers = %d, want 2", got)
	}
	if got, want := reg.NumParameters(), int64(6*8+8+8+8+8*8); got != want {
		t.Errorf("NumParameters = %d, want %d", got, want)
	}

	spec := reg.Spec()
	if spec.TotalParameters != reg.NumParameters() {
		t.Errorf("spec total %d != %d", spec.TotalParameters, reg.NumParameters())
	}
	if !strings.Contains(spec.Summary(), "fc0/bn (BatchNorm)") {
		t.Errorf("summary missing batch norm layer:\n%s", spec.Summary())
	}
}

func TestRegistryRejectsDuplicateKey(t *testing.T) {
	reg := NewRegistry(1)
	if _, err := NewLinear(reg, "fc", 2, 2, true); err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	if _, err := NewLinear(reg, "fc", 2, 2, true); err == nil {
		t.Error("expected duplicate key error")
	}
}

func TestRegistryRestore(t *testing.T) {
	build := func(seed int64) *Registry {
		reg := NewRegistry(seed)
		if _, err := NewSharedMLP(reg, "mlp", 3, 4, true, true); err != nil {
			t.Fatalf("NewSharedMLP failed: %v", err)
		}
		return reg
	}
	src, dst := build(1), build(2)

	snapshot := func(in []NamedTensor) []NamedTensor {
		out := make([]NamedTensor, len(in))
		for i, p := range in {
			c, _ := p.Tensor.Clone()
			out[i] = NamedTensor{Name: p.Name, Tensor: c}
		}
		return out
	}
	src.NamedBuffers()[0].Tensor.Float32s()[0] = 0.75

	if err := dst.Restore(snapshot(src.NamedParameters()), snapshot(src.NamedBuffers())); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	for i, p := range dst.NamedParameters() {
		if !p.Tensor.Equal(src.NamedParameters()[i].Tensor) {
			t.Errorf("parameter %s not restored", p.Name)
		}
	}
	if got := dst.NamedBuffers()[0].Tensor.Float32s()[0]; got != 0.75 {
		t.Errorf("buffer not restored: %v", got)
	}

	t.Run("shape mismatch", func(t *testing.T) {
		params := snapshot(src.NamedParameters())
		params[0].Tensor, _ = tensor.Zeros([]int{4, 3}, tensor.Float32)
		if err := dst.Restore(params, snapshot(src.NamedBuffers())); err == nil {
			t.Error("expected shape error")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		params := snapshot(src.NamedParameters())[1:]
		if err := dst.Restore(params, snapshot(src.NamedBuffers())); err == nil {
			t.Error("expected missing key error")
		}
	})
}

func TestBatchNormRunningStatistics(t *testing.T) {
	reg := NewRegistry(1)
	bn, err := NewBatchNorm(reg, "bn", 1)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}
	x, _ := tensor.FromFloat32([]int{1, 4, 1}, []float32{1, 2, 3, 4})

	if _, err := bn.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	mean, variance := bn.RunningMean.Float32s()[0], bn.RunningVar.Float32s()[0]
	if math.Abs(float64(mean)-0.025) > 1e-6 {
		t.Errorf("running mean = %v, want 0.025", mean)
	}
	if math.Abs(float64(variance)-(0.99+0.0125)) > 1e-6 {
		t.Errorf("running variance = %v, want 1.0025", variance)
	}

	reg.SetTraining(false)
	if _, err := bn.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if bn.RunningMean.Float32s()[0] != mean {
		t.Error("inference must not update running statistics")
	}
}

func TestDropout(t *testing.T) {
	reg := NewRegistry(3)
	d, err := NewDropout(reg, "dp", 0.5)
	if err != nil {
		t.Fatalf("NewDropout failed: %v", err)
	}
	x, _ := tensor.Ones([]int{2, 50, 4}, tensor.Float32)

	y, err := d.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	zeros := 0
	for _, v := range y.Float32s() {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected value %v; survivors should be scaled to 2", v)
		}
	}
	if zeros == 0 || zeros == y.NumElems {
		t.Errorf("dropped %d of %d elements", zeros, y.NumElems)
	}

	reg.SetTraining(false)
	y, _ = d.Forward(x)
	if y != x {
		t.Error("dropout should be the identity at inference")
	}

	if _, err := NewDropout(reg, "bad", 1); err == nil {
		t.Error("expected error for rate 1")
	}
}

func TestSharedMLPShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		out   int
	}{
		{name: "points", shape: []int{2, 7, 5}, out: 3},
		{name: "neighborhoods", shape: []int{1, 4, 6, 5}, out: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(1)
			m, err := NewSharedMLP(reg, "m", tt.shape[len(tt.shape)-1], tt.out, true, true)
			if err != nil {
				t.Fatalf("NewSharedMLP failed: %v", err)
			}
			x, _ := tensor.RandomNormal(tt.shape, 0, 1, reg.Rand())
			y, err := m.Forward(x)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}
			want := append(append([]int(nil), tt.shape[:len(tt.shape)-1]...), tt.out)
			if !reflect.DeepEqual(y.Shape, want) {
				t.Errorf("shape = %v, want %v", y.Shape, want)
			}
		})
	}
}
