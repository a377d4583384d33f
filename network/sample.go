package network

import (
	"github.com/tsawler/waterfall-net/tensor"
)

// RandomSample pools feature [B, N, d] onto the next level: for each of the
// N' pooled points it gathers the k source points named by poolIdx
// [B, N', k] and keeps the channel-wise maximum, giving [B, N', d].
func RandomSample(feature, poolIdx *tensor.Tensor) (*tensor.Tensor, error) {
	neigh, err := GatherNeighbour(feature, poolIdx)
	if err != nil {
		return nil, err
	}
	return tensor.MaxAutograd(neigh, 2)
}

// NearestInterpolation copies coarse values feature [B, N', d] onto fine
// points through interpIdx [B, N, k'], giving [B, N, k', d].
func NearestInterpolation(feature, interpIdx *tensor.Tensor) (*tensor.Tensor, error) {
	return GatherNeighbour(feature, interpIdx)
}
