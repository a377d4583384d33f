package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/waterfall-net/tensor"
)

func smallConfig() SyntheticConfig {
	return SyntheticConfig{
		Clouds:           5,
		NumPoints:        512,
		NumFeatures:      6,
		LabelValues:      4,
		KNN:              4,
		SubSamplingRatio: []int{4, 4, 4, 4, 2},
		Seed:             3,
	}
}

func TestSyntheticConfigValidation(t *testing.T) {
	cfg := smallConfig()
	cfg.NumPoints = 256 // 256 → 64 → 16 → 4 → 1 → 0
	_, err := NewSyntheticDataset(cfg)
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.SubSamplingRatio = []int{4, 0}
	_, err = NewSyntheticDataset(cfg)
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.KNN = 0
	_, err = NewSyntheticDataset(cfg)
	assert.Error(t, err)
}

func TestSyntheticLayout(t *testing.T) {
	ds, err := NewSyntheticDataset(smallConfig())
	require.NoError(t, err)
	flat, err := ds.Get(2)
	require.NoError(t, err)

	const L = 5
	require.Len(t, flat, 5*L+6)
	sizes := []int{512, 128, 32, 8, 2, 1}
	for l := 0; l < L; l++ {
		assert.Equal(t, []int{1, sizes[l], 3}, flat[l].Shape, "xyz[%d]", l)
		assert.Equal(t, []int{1, sizes[l], 4}, flat[L+l].Shape, "neigh_idx[%d]", l)
		assert.Equal(t, []int{1, sizes[l+1], 4}, flat[2*L+l].Shape, "sub_idx[%d]", l)
		assert.Equal(t, []int{1, sizes[l], 1}, flat[3*L+l].Shape, "interp_idx[%d]", l)
		assert.Equal(t, []int{1, sizes[l+1], 3}, flat[4*L+l].Shape, "sub_xyz[%d]", l)
	}
	assert.Equal(t, []int{1, sizes[1], 1}, flat[5*L].Shape)
	assert.Equal(t, []int{1, sizes[2], 1}, flat[5*L+1].Shape)
	assert.Equal(t, []int{1, 512, 6}, flat[5*L+2].Shape)
	assert.Equal(t, tensor.Int32, flat[5*L+3].DType)
	assert.Equal(t, []int32{2}, flat[5*L+5].Int32s())

	for _, v := range flat[5*L+3].Int32s() {
		assert.True(t, v >= 0 && v < 4, "label %d out of range", v)
	}
	// Indices stay within their target level.
	for l := 0; l < L; l++ {
		for _, v := range flat[L+l].Int32s() {
			require.True(t, int(v) < sizes[l])
		}
		for _, v := range flat[3*L+l].Int32s() {
			require.True(t, int(v) < sizes[l+1])
		}
	}
}

func TestSyntheticNeighborsAreNearest(t *testing.T) {
	ds, err := NewSyntheticDataset(smallConfig())
	require.NoError(t, err)
	flat, err := ds.Get(0)
	require.NoError(t, err)

	xyz := flat[0].Float32s()
	idx := flat[5].Int32s()
	point := func(i int) [3]float32 { return [3]float32{xyz[3*i], xyz[3*i+1], xyz[3*i+2]} }

	for i := 0; i < 20; i++ {
		// Every point is its own nearest neighbor.
		assert.Equal(t, int32(i), idx[4*i])
		kth := distance(point(i), point(int(idx[4*i+3])))
		for j := 0; j < 512; j++ {
			in := false
			for _, n := range idx[4*i : 4*i+4] {
				if int(n) == j {
					in = true
				}
			}
			if !in {
				assert.GreaterOrEqual(t, distance(point(i), point(j)), kth)
			}
		}
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	ds, err := NewSyntheticDataset(smallConfig())
	require.NoError(t, err)
	a, err := ds.Get(1)
	require.NoError(t, err)
	b, err := ds.Get(1)
	require.NoError(t, err)
	for i := range a {
		assert.True(t, a[i].Equal(b[i]), "tensor %d differs", i)
	}

	_, err = ds.Get(5)
	assert.Error(t, err)
}

func TestDataLoaderBatches(t *testing.T) {
	ds, err := NewSyntheticDataset(smallConfig())
	require.NoError(t, err)
	dl, err := NewDataLoader(ds, 2, true, 9)
	require.NoError(t, err)
	assert.Equal(t, 3, dl.Len())

	ctx := context.Background()
	seen := map[int32]bool{}
	var sizes []int
	for {
		batch, err := dl.Next(ctx)
		if errors.Is(err, ErrEndOfEpoch) {
			break
		}
		require.NoError(t, err)
		features := batch[len(batch)-4]
		sizes = append(sizes, features.Shape[0])
		for _, c := range batch[len(batch)-1].Int32s() {
			seen[c] = true
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Len(t, seen, 5)

	dl.Reset()
	_, err = dl.Next(ctx)
	assert.NoError(t, err)
}

func TestDataLoaderHonorsContext(t *testing.T) {
	ds, err := NewSyntheticDataset(smallConfig())
	require.NoError(t, err)
	dl, err := NewDataLoader(ds, 1, false, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dl.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewDataLoader(ds, 0, false, 0)
	assert.Error(t, err)
}

func TestSubsetDataset(t *testing.T) {
	ds, err := NewSyntheticDataset(smallConfig())
	require.NoError(t, err)
	sub, err := NewSubsetDataset(ds, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Len())
	_, err = sub.Get(2)
	assert.Error(t, err)

	_, err = NewSubsetDataset(ds, -1)
	assert.Error(t, err)
}
