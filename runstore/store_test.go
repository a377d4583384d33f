package runstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	version, _, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestStartRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, map[string]int{"num_classes": 13})
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.JSONEq(t, `{"num_classes": 13}`, got.ConfigJSON)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Second)

	_, err = s.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestRecordAndListEpochs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run, err := s.StartRun(ctx, struct{}{})
	require.NoError(t, err)

	require.NoError(t, s.RecordEpoch(ctx, Epoch{
		RunID: run.ID, Epoch: 1, Step: 501, MeanIoU: 37.5, Accuracy: 0.8,
		LearningRate: 0.0095, TrainLoss: 1.25, IoU: []float64{0.5, math.NaN(), 0.25},
	}))
	require.NoError(t, s.RecordEpoch(ctx, Epoch{
		RunID: run.ID, Epoch: 0, Step: 1, MeanIoU: math.NaN(), IoU: []float64{0.1},
	}))

	epochs, err := s.Epochs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, epochs, 2)

	assert.Equal(t, 0, epochs[0].Epoch)
	assert.True(t, math.IsNaN(epochs[0].MeanIoU))

	e := epochs[1]
	assert.Equal(t, 501, e.Step)
	assert.InDelta(t, 37.5, e.MeanIoU, 1e-9)
	assert.InDelta(t, 1.25, e.TrainLoss, 1e-9)
	require.Len(t, e.IoU, 3)
	assert.InDelta(t, 0.5, e.IoU[0], 1e-9)
	assert.True(t, math.IsNaN(e.IoU[1]))
	assert.False(t, e.CreatedAt.IsZero())
}

func TestRecordEpochReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run, err := s.StartRun(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, s.RecordEpoch(ctx, Epoch{RunID: run.ID, Epoch: 1, MeanIoU: 10}))
	require.NoError(t, s.RecordEpoch(ctx, Epoch{RunID: run.ID, Epoch: 1, MeanIoU: 20}))

	epochs, err := s.Epochs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, epochs, 1)
	assert.InDelta(t, 20, epochs[0].MeanIoU, 1e-9)
}
