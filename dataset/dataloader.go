package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/waterfall-net/tensor"
)

// ErrEndOfEpoch is returned by Next once every batch of the epoch has been
// served. It is a control signal, not a failure.
var ErrEndOfEpoch = errors.New("end of epoch")

// DataSource yields flat input batches (see network.InputsFromFlat).
type DataSource interface {
	Next(ctx context.Context) ([]*tensor.Tensor, error)
	Reset()
}

// Dataset interface defines methods that all datasets must implement. Get
// returns one cloud as a flat tensor list whose tensors all have a leading
// batch dimension of 1.
type Dataset interface {
	Len() int
	Get(idx int) ([]*tensor.Tensor, error)
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch, or ErrEndOfEpoch when the epoch is complete.
// The final batch may be smaller than the batch size.
func (dl *DataLoader) Next(ctx context.Context) ([]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, ErrEndOfEpoch
	}
	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// loadBatch stacks samples along the leading axis of each flat tensor.
func (dl *DataLoader) loadBatch(indices []int) ([]*tensor.Tensor, error) {
	samples := make([][]*tensor.Tensor, len(indices))
	for i, idx := range indices {
		s, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if i > 0 && len(s) != len(samples[0]) {
			return nil, fmt.Errorf("sample %d has %d tensors, expected %d", idx, len(s), len(samples[0]))
		}
		samples[i] = s
	}

	out := make([]*tensor.Tensor, len(samples[0]))
	for t := range out {
		first := samples[0][t]
		if first.Rank() < 1 || first.Shape[0] != 1 {
			return nil, fmt.Errorf("tensor %d: expected leading batch dimension 1, got %v", t, first.Shape)
		}
		shape := append([]int{len(samples)}, first.Shape[1:]...)
		batched, err := tensor.Zeros(shape, first.DType)
		if err != nil {
			return nil, err
		}
		for i, s := range samples {
			if err := copyInto(batched, s[t], i); err != nil {
				return nil, fmt.Errorf("tensor %d of sample %d: %w", t, indices[i], err)
			}
		}
		out[t] = batched
	}
	return out, nil
}

// copyInto copies a sample tensor into a specific position in the batch tensor
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}
	sampleSize := sampleTensor.NumElems
	if sampleSize*batchTensor.Shape[0] != batchTensor.NumElems {
		return fmt.Errorf("sample shape %v does not fit batch shape %v", sampleTensor.Shape, batchTensor.Shape)
	}
	offset := batchIndex * sampleSize

	switch batchTensor.DType {
	case tensor.Float32:
		copy(batchTensor.Float32s()[offset:offset+sampleSize], sampleTensor.Float32s())
	case tensor.Int32:
		copy(batchTensor.Int32s()[offset:offset+sampleSize], sampleTensor.Int32s())
	default:
		return fmt.Errorf("unsupported dtype for batch copying: %s", batchTensor.DType)
	}
	return nil
}
