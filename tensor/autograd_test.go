package tensor

import (
	"reflect"
	"testing"
)

func TestAutogradBasicOperations(t *testing.T) {
	t.Run("Addition forward", func(t *testing.T) {
		a, _ := FromFloat32([]int{2, 2}, []float32{1, 2, 3, 4})
		b, _ := FromFloat32([]int{2, 2}, []float32{5, 6, 7, 8})
		a.SetRequiresGrad(true)
		b.SetRequiresGrad(true)

		result, err := AddAutograd(a, b)
		if err != nil {
			t.Fatalf("AddAutograd failed: %v", err)
		}
		if !result.RequiresGrad() {
			t.Error("Result should require gradients")
		}
		if result.Creator() == nil || result.Creator().Name() != "Add" {
			t.Errorf("unexpected creator %v", result.Creator())
		}

		expected := []float32{6, 8, 10, 12}
		if !reflect.DeepEqual(result.Float32s(), expected) {
			t.Errorf("Expected %v, got %v", expected, result.Float32s())
		}
	})

	t.Run("No grad inputs build no graph", func(t *testing.T) {
		a, _ := FromFloat32([]int{2}, []float32{1, 2})
		b, _ := FromFloat32([]int{2}, []float32{3, 4})

		result, err := MulAutograd(a, b)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		if result.RequiresGrad() || result.Creator() != nil {
			t.Error("result of constant inputs should be a leaf")
		}
	})
}

func TestAutogradBackward(t *testing.T) {
	t.Run("Simple addition backward", func(t *testing.T) {
		x1, _ := FromFloat32([]int{1}, []float32{3})
		x2, _ := FromFloat32([]int{1}, []float32{4})
		x1.SetRequiresGrad(true)
		x2.SetRequiresGrad(true)

		y, err := AddAutograd(x1, x2)
		if err != nil {
			t.Fatalf("AddAutograd failed: %v", err)
		}
		if err := y.Backward(); err != nil {
			t.Fatalf("Backward pass failed: %v", err)
		}
		if g := x1.Grad().Float32s()[0]; g != 1 {
			t.Errorf("Expected x1 gradient 1, got %f", g)
		}
		if g := x2.Grad().Float32s()[0]; g != 1 {
			t.Errorf("Expected x2 gradient 1, got %f", g)
		}
	})

	t.Run("Shared input accumulates", func(t *testing.T) {
		// y = x*x + x, dy/dx = 2x + 1
		x, _ := FromFloat32([]int{1}, []float32{3})
		x.SetRequiresGrad(true)

		sq, err := MulAutograd(x, x)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		y, err := AddAutograd(sq, x)
		if err != nil {
			t.Fatalf("AddAutograd failed: %v", err)
		}
		if err := y.Backward(); err != nil {
			t.Fatalf("Backward pass failed: %v", err)
		}
		if g := x.Grad().Float32s()[0]; g != 7 {
			t.Errorf("Expected gradient 7, got %f", g)
		}
	})

	t.Run("Repeated backward adds into leaves", func(t *testing.T) {
		x, _ := FromFloat32([]int{1}, []float32{2})
		x.SetRequiresGrad(true)
		for i := 0; i < 2; i++ {
			y, _ := MulAutograd(x, x)
			if err := y.Backward(); err != nil {
				t.Fatalf("Backward pass failed: %v", err)
			}
		}
		if g := x.Grad().Float32s()[0]; g != 8 {
			t.Errorf("Expected gradient 8, got %f", g)
		}
		ZeroGrad([]*Tensor{x})
		if x.Grad() != nil {
			t.Error("ZeroGrad should clear gradient")
		}
	})

	t.Run("Backward needs a scalar", func(t *testing.T) {
		x, _ := FromFloat32([]int{2}, []float32{1, 2})
		x.SetRequiresGrad(true)
		y, _ := AddAutograd(x, x)
		if err := y.Backward(); err == nil {
			t.Error("expected error for non-scalar backward")
		}
	})

	t.Run("Broadcast gradient is reduced", func(t *testing.T) {
		a, _ := FromFloat32([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		b, _ := FromFloat32([]int{1, 3}, []float32{1, 1, 1})
		b.SetRequiresGrad(true)

		y, err := MulAutograd(a, b)
		if err != nil {
			t.Fatalf("MulAutograd failed: %v", err)
		}
		seed, _ := Ones(y.Shape, Float32)
		if err := y.BackwardWithGrad(seed); err != nil {
			t.Fatalf("Backward pass failed: %v", err)
		}
		want := []float32{5, 7, 9}
		if !reflect.DeepEqual(b.Grad().Float32s(), want) {
			t.Errorf("got %v, want %v", b.Grad().Float32s(), want)
		}
		if !reflect.DeepEqual(b.Grad().Shape, []int{1, 3}) {
			t.Errorf("gradient shape %v", b.Grad().Shape)
		}
	})
}

func TestLeakyReLU(t *testing.T) {
	x, _ := FromFloat32([]int{4}, []float32{-2, -0.5, 0, 3})
	y, err := LeakyReLUAutograd(x)
	if err != nil {
		t.Fatalf("LeakyReLUAutograd failed: %v", err)
	}
	want := []float32{-0.4, -0.1, 0, 3}
	if !AllClose(y, mustFloat32([]int{4}, want), 1e-6) {
		t.Errorf("got %v, want %v", y.Float32s(), want)
	}
}
