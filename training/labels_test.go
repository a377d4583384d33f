package training

import (
	"reflect"
	"testing"
)

func TestLabelRemap(t *testing.T) {
	tests := []struct {
		name    string
		classes int
		ignored []int
		want    []int32
	}{
		{"none", 3, nil, []int32{0, 1, 2}},
		{"middle", 4, []int{2}, []int32{0, 1, 0, 2, 3}},
		{"first", 3, []int{0}, []int32{0, 0, 1, 2}},
		{"last", 3, []int{3}, []int32{0, 1, 2, 0}},
		{"unsorted", 3, []int{4, 0}, []int32{0, 0, 1, 2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LabelRemap(tt.classes, tt.ignored)
			if err != nil {
				t.Fatalf("LabelRemap: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LabelRemap(%d, %v) = %v, want %v", tt.classes, tt.ignored, got, tt.want)
			}
		})
	}

	if _, err := LabelRemap(3, []int{9}); err == nil {
		t.Error("expected error for out-of-range ignored label")
	}
}

func TestSelectValidDropsIgnoredAndRelabels(t *testing.T) {
	labels := []int32{0, 1, 2, 3, 4}
	ignored := []int{2}
	remap, err := LabelRemap(4, ignored)
	if err != nil {
		t.Fatal(err)
	}

	positions, valid := SelectValid(labels, IgnoredMask(labels, ignored), remap)
	if want := []int{0, 1, 3, 4}; !reflect.DeepEqual(positions, want) {
		t.Errorf("positions = %v, want %v", positions, want)
	}
	if want := []int32{0, 1, 2, 3}; !reflect.DeepEqual(valid, want) {
		t.Errorf("labels = %v, want %v", valid, want)
	}
}

func TestMasks(t *testing.T) {
	labels := []int32{0, 1, 2, 1, 0}

	if got := IgnoredMask(labels, []int{0, 2}); !reflect.DeepEqual(got, []bool{true, false, true, false, true}) {
		t.Errorf("IgnoredMask = %v", got)
	}
	// Evaluation compares against the first id only.
	if got := EvalMask(labels, []int{0, 2}); !reflect.DeepEqual(got, []bool{true, false, false, false, true}) {
		t.Errorf("EvalMask = %v", got)
	}
	if got := EvalMask(labels, nil); !reflect.DeepEqual(got, make([]bool, 5)) {
		t.Errorf("EvalMask without ids = %v", got)
	}
}
