package network

import (
	"math"

	"github.com/tsawler/waterfall-net/tensor"
)

// RelPosChannels is the width of a relative position encoding:
// distance, offset, center and neighbor coordinates.
const RelPosChannels = 10

// RelativePosEncoding builds the geometric neighborhood feature for
// xyz [B, N, 3] and neighIdx [B, N, k]. For point i and neighbor j it emits
// [|rel|, rel, xyz_i, xyz_j] with rel = xyz_i - xyz_j, giving
// [B, N, k, 10]. The result carries no gradient.
func RelativePosEncoding(xyz, neighIdx *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectShape("relative_pos_encoding", xyz, tensor.Float32, anyDim, anyDim, 3); err != nil {
		return nil, err
	}
	b, n := xyz.Shape[0], xyz.Shape[1]
	if err := expectShape("relative_pos_encoding index", neighIdx, tensor.Int32, b, n, anyDim); err != nil {
		return nil, err
	}
	k := neighIdx.Shape[2]

	pts, ids := xyz.Float32s(), neighIdx.Int32s()
	out := make([]float32, b*n*k*RelPosChannels)
	for bi := 0; bi < b; bi++ {
		cloud := pts[bi*n*3 : (bi+1)*n*3]
		for i := 0; i < n; i++ {
			center := cloud[i*3 : i*3+3]
			for j := 0; j < k; j++ {
				row := (bi*n+i)*k + j
				nb := int(ids[row])
				neigh := cloud[nb*3 : nb*3+3]
				o := out[row*RelPosChannels : (row+1)*RelPosChannels]
				var sq float64
				for c := 0; c < 3; c++ {
					rel := center[c] - neigh[c]
					o[1+c] = rel
					o[4+c] = center[c]
					o[7+c] = neigh[c]
					sq += float64(rel) * float64(rel)
				}
				o[0] = float32(math.Sqrt(sq))
			}
		}
	}
	return tensor.FromFloat32([]int{b, n, k, RelPosChannels}, out)
}
