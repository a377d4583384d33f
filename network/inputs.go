package network

import (
	"fmt"

	"github.com/tsawler/waterfall-net/tensor"
)

// Inputs is one batch of the point-cloud pyramid. Per-level slices have
// NumLayers entries; level L+1 has the points of SubXYZ[L].
type Inputs struct {
	XYZ       []*tensor.Tensor // [B, N_L, 3]
	NeighIdx  []*tensor.Tensor // [B, N_L, k] into level L
	SubIdx    []*tensor.Tensor // [B, N_{L+1}, k] into level L
	InterpIdx []*tensor.Tensor // [B, N_L, k'] into level L+1
	SubXYZ    []*tensor.Tensor // [B, N_{L+1}, 3]

	Backbone1 *tensor.Tensor // [B, N_1, k'] into level 3
	Backbone2 *tensor.Tensor // [B, N_2, k'] into level 4

	Features  *tensor.Tensor // [B, N_0, d]
	Labels    *tensor.Tensor // [B, N_0]
	InputInds *tensor.Tensor
	CloudInds *tensor.Tensor
}

// FlatLen is the number of tensors in a flat batch for numLayers levels.
func FlatLen(numLayers int) int {
	return 5*numLayers + 6
}

// InputsFromFlat slices the flat tensor sequence produced by a data
// source: five groups of numLayers per-level tensors (xyz, neigh_idx,
// sub_idx, interp_idx, sub_xyz) followed by backbone1, backbone2,
// features, labels, input_inds and cloud_inds. The result is validated.
func InputsFromFlat(flat []*tensor.Tensor, numLayers int) (*Inputs, error) {
	if numLayers <= 0 {
		return nil, fmt.Errorf("inputs: num_layers must be positive, got %d", numLayers)
	}
	if len(flat) != FlatLen(numLayers) {
		return nil, fmt.Errorf("inputs: expected %d tensors for %d layers, got %d",
			FlatLen(numLayers), numLayers, len(flat))
	}
	L := numLayers
	in := &Inputs{
		XYZ:       flat[:L],
		NeighIdx:  flat[L : 2*L],
		SubIdx:    flat[2*L : 3*L],
		InterpIdx: flat[3*L : 4*L],
		SubXYZ:    flat[4*L : 5*L],
		Backbone1: flat[5*L],
		Backbone2: flat[5*L+1],
		Features:  flat[5*L+2],
		Labels:    flat[5*L+3],
		InputInds: flat[5*L+4],
		CloudInds: flat[5*L+5],
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// Flat is the inverse of InputsFromFlat.
func (in *Inputs) Flat() []*tensor.Tensor {
	out := make([]*tensor.Tensor, 0, FlatLen(in.NumLayers()))
	for _, group := range [][]*tensor.Tensor{in.XYZ, in.NeighIdx, in.SubIdx, in.InterpIdx, in.SubXYZ} {
		out = append(out, group...)
	}
	return append(out, in.Backbone1, in.Backbone2, in.Features, in.Labels, in.InputInds, in.CloudInds)
}

func (in *Inputs) NumLayers() int { return len(in.XYZ) }

// BatchSize returns B.
func (in *Inputs) BatchSize() int { return in.Features.Shape[0] }

// NumPoints returns the number of points at level L.
func (in *Inputs) NumPoints(level int) int {
	if level < in.NumLayers() {
		return in.XYZ[level].Shape[1]
	}
	return in.SubXYZ[level-1].Shape[1]
}

// Validate checks every tensor's dtype and shape against the pyramid
// contract. Index values are not range checked.
func (in *Inputs) Validate() error {
	L := len(in.XYZ)
	if L == 0 || len(in.NeighIdx) != L || len(in.SubIdx) != L || len(in.InterpIdx) != L || len(in.SubXYZ) != L {
		return fmt.Errorf("inputs: per-level groups have lengths %d/%d/%d/%d/%d",
			len(in.XYZ), len(in.NeighIdx), len(in.SubIdx), len(in.InterpIdx), len(in.SubXYZ))
	}
	if err := expectShape("inputs features", in.Features, tensor.Float32, anyDim, anyDim, anyDim); err != nil {
		return err
	}
	b, n0 := in.Features.Shape[0], in.Features.Shape[1]
	if err := expectShape("inputs labels", in.Labels, tensor.Int32, b, n0); err != nil {
		return err
	}

	n := n0
	for l := 0; l < L; l++ {
		name := func(s string) string { return fmt.Sprintf("inputs %s[%d]", s, l) }
		if err := expectShape(name("xyz"), in.XYZ[l], tensor.Float32, b, n, 3); err != nil {
			return err
		}
		if err := expectShape(name("neigh_idx"), in.NeighIdx[l], tensor.Int32, b, n, anyDim); err != nil {
			return err
		}
		if err := expectShape(name("sub_xyz"), in.SubXYZ[l], tensor.Float32, b, anyDim, 3); err != nil {
			return err
		}
		next := in.SubXYZ[l].Shape[1]
		if err := expectShape(name("sub_idx"), in.SubIdx[l], tensor.Int32, b, next, anyDim); err != nil {
			return err
		}
		if err := expectShape(name("interp_idx"), in.InterpIdx[l], tensor.Int32, b, n, anyDim); err != nil {
			return err
		}
		n = next
	}

	if L > 3 {
		if err := expectShape("inputs backbone1", in.Backbone1, tensor.Int32, b, in.NumPoints(1), anyDim); err != nil {
			return err
		}
	}
	if L > 4 {
		if err := expectShape("inputs backbone2", in.Backbone2, tensor.Int32, b, in.NumPoints(2), anyDim); err != nil {
			return err
		}
	}
	for _, t := range []*tensor.Tensor{in.InputInds, in.CloudInds} {
		if t == nil || t.Rank() < 1 || t.Shape[0] != b {
			var got []int
			if t != nil {
				got = t.Shape
			}
			return &tensor.ShapeError{Op: "inputs indices", Want: fmt.Sprintf("[%d, ...]", b), Got: got}
		}
	}
	return nil
}
