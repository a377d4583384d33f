package training

import (
	"fmt"
	"sort"
)

// LabelRemap builds the table that maps raw label ids onto the
// numClasses valid classes: range(numClasses) with a 0 inserted at every
// ignored position, in ascending order. Ignored ids map to 0 but are
// always filtered out before the table is used.
//
// For numClasses 4 and ignored {2} the table is [0 1 0 2 3].
func LabelRemap(numClasses int, ignored []int) ([]int32, error) {
	sorted := append([]int(nil), ignored...)
	sort.Ints(sorted)
	total := numClasses + len(sorted)

	table := make([]int32, 0, total)
	for c := 0; c < numClasses; c++ {
		table = append(table, int32(c))
	}
	for _, id := range sorted {
		if id < 0 || id > len(table) {
			return nil, fmt.Errorf("ignored label %d outside [0, %d)", id, total)
		}
		table = append(table, 0)
		copy(table[id+1:], table[id:])
		table[id] = 0
	}
	return table, nil
}

// IgnoredMask marks every label that equals any of the ignored ids.
func IgnoredMask(labels []int32, ignored []int) []bool {
	mask := make([]bool, len(labels))
	if len(ignored) == 0 {
		return mask
	}
	set := make(map[int32]bool, len(ignored))
	for _, id := range ignored {
		set[int32(id)] = true
	}
	for i, l := range labels {
		mask[i] = set[l]
	}
	return mask
}

// EvalMask is the mask evaluation uses: only the first ignored id is
// compared, and no ids means no masking.
func EvalMask(labels []int32, ignored []int) []bool {
	if len(ignored) == 0 {
		return make([]bool, len(labels))
	}
	return IgnoredMask(labels, ignored[:1])
}

// SelectValid returns, in order, the flat positions whose mask entry is
// false and their labels passed through remap. Labels outside the table
// are passed through unchanged.
func SelectValid(labels []int32, mask []bool, remap []int32) (positions []int, remapped []int32) {
	positions = make([]int, 0, len(labels))
	remapped = make([]int32, 0, len(labels))
	for i, l := range labels {
		if mask[i] {
			continue
		}
		if l >= 0 && int(l) < len(remap) {
			l = remap[l]
		}
		positions = append(positions, i)
		remapped = append(remapped, l)
	}
	return positions, remapped
}
