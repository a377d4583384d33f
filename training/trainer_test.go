package training

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/waterfall-net/checkpoints"
	"github.com/tsawler/waterfall-net/config"
	"github.com/tsawler/waterfall-net/dataset"
	"github.com/tsawler/waterfall-net/network"
	"github.com/tsawler/waterfall-net/runstore"
	"github.com/tsawler/waterfall-net/tensor"
)

type memoryRecorder struct {
	epochs []runstore.Epoch
}

func (m *memoryRecorder) RecordEpoch(_ context.Context, e runstore.Epoch) error {
	m.epochs = append(m.epochs, e)
	return nil
}

func quiet(t *testing.T) {
	t.Helper()
	prev := Logf
	Logf = t.Logf
	t.Cleanup(func() { Logf = prev })
}

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NumClasses = 3
	cfg.IgnoredLabelInds = []int{1}
	cfg.NumFeatures = 6
	cfg.LearningRate = 0.01
	cfg.LRDecay = 0.5
	cfg.MaxEpoch = 1
	cfg.TrainSteps = 2
	cfg.ValSteps = 1
	cfg.BatchSize = 1
	cfg.ValBatchSize = 1
	cfg.NumPoints = 512
	cfg.KN = 4
	cfg.Seed = 5
	require.NoError(t, cfg.Validate())
	return cfg
}

func source(t *testing.T, cfg *config.Config, clouds, batch int, seed int64) *dataset.DataLoader {
	t.Helper()
	ds, err := dataset.NewSyntheticDataset(dataset.SyntheticConfig{
		Clouds:           clouds,
		NumPoints:        cfg.NumPoints,
		NumFeatures:      cfg.NumFeatures,
		LabelValues:      cfg.LabelValues(),
		KNN:              cfg.KN,
		SubSamplingRatio: cfg.SubSamplingRatio,
		Seed:             seed,
	})
	require.NoError(t, err)
	dl, err := dataset.NewDataLoader(ds, batch, false, seed)
	require.NoError(t, err)
	return dl
}

func newTestTrainer(t *testing.T, cfg *config.Config, train dataset.DataSource, opts ...Option) *Trainer {
	t.Helper()
	net, err := network.New(network.Config{
		NumLayers:   cfg.NumLayers,
		NumClasses:  cfg.NumClasses,
		NumFeatures: cfg.NumFeatures,
		Seed:        cfg.Seed,
	})
	require.NoError(t, err)
	val := source(t, cfg, cfg.ValSteps*cfg.ValBatchSize, cfg.ValBatchSize, cfg.Seed+1)
	tr, err := NewTrainer(cfg, net, train, val, opts...)
	require.NoError(t, err)
	return tr
}

func TestTrainOneEpoch(t *testing.T) {
	quiet(t)
	cfg := smallConfig(t)
	dir := t.TempDir()

	snaps, err := checkpoints.NewManager(dir, checkpoints.FormatProto, 3)
	require.NoError(t, err)
	runLog, err := OpenRunLog(filepath.Join(dir, cfg.LogFileName()))
	require.NoError(t, err)
	defer runLog.Close()
	rec := &memoryRecorder{}

	train := source(t, cfg, cfg.TrainSteps*cfg.BatchSize, cfg.BatchSize, cfg.Seed)
	tr := newTestTrainer(t, cfg, train,
		WithCheckpoints(snaps), WithRecorder(rec), WithRunLog(runLog), WithPlot(dir))

	s := NewSession(cfg.LearningRate)
	require.NoError(t, tr.Train(context.Background(), s))

	assert.Equal(t, 1, s.Epoch)
	assert.Equal(t, 3, s.Step)
	assert.InDelta(t, 0.005, s.LearningRate, 1e-12)
	assert.InDelta(t, 0.005, float64(tr.Optimizer().GetLearningRate()), 1e-9)
	require.Len(t, s.MIoUHistory, 2)
	require.Len(t, s.EpochLosses, 1)

	require.Len(t, rec.epochs, 1)
	assert.Equal(t, 0, rec.epochs[0].Epoch)
	assert.Len(t, rec.epochs[0].IoU, cfg.NumClasses)

	latest, err := snaps.Latest()
	require.NoError(t, err)
	if s.MIoUHistory[1] > 0 {
		assert.Equal(t, filepath.Join(snaps.Dir(), "snap-3.pb"), latest)
	} else {
		assert.Empty(t, latest)
	}

	logText, err := os.ReadFile(filepath.Join(dir, cfg.LogFileName()))
	require.NoError(t, err)
	for _, want := range []string{"****EPOCH 0****", "eval accuracy:", "Mean IoU = ", "Best m_IoU is:", "****EPOCH 1****"} {
		assert.Contains(t, string(logText), want)
	}
	assert.FileExists(t, filepath.Join(dir, MIoUPlotFile))
	assert.FileExists(t, filepath.Join(dir, LossPlotFile))
}

func TestRestoreResumesNextEpoch(t *testing.T) {
	quiet(t)
	cfg := smallConfig(t)
	dir := t.TempDir()
	train := source(t, cfg, 2, 1, cfg.Seed)
	tr := newTestTrainer(t, cfg, train)

	s := NewSession(cfg.LearningRate)
	s.RunID = "run-7"
	require.Equal(t, Continue, tr.Step(context.Background(), s).Status)

	snaps, err := checkpoints.NewManager(dir, checkpoints.FormatJSON, 0)
	require.NoError(t, err)
	tr.snapshots = snaps
	require.NoError(t, tr.saveSnapshot(s, 42))
	path, err := snaps.Latest()
	require.NoError(t, err)

	other := newTestTrainer(t, cfg, source(t, cfg, 2, 1, cfg.Seed))
	restored, err := other.Restore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Epoch)
	assert.Equal(t, 2, restored.Step)
	assert.Equal(t, "run-7", restored.RunID)
	assert.Equal(t, []float64{0, 42}, restored.MIoUHistory)
	assert.InDelta(t, 0.005, restored.LearningRate, 1e-12)
	assert.Equal(t, uint64(1), other.Optimizer().GetStepCount())

	for _, p := range tr.net.Registry().NamedParameters() {
		got, ok := other.net.Registry().Lookup(p.Name)
		require.True(t, ok)
		require.Equal(t, p.Tensor.Float32s(), got.Float32s(), p.Name)
	}
}

// nanSource corrupts the first feature of every batch.
type nanSource struct {
	dataset.DataSource
	numLayers int
}

func (n nanSource) Next(ctx context.Context) ([]*tensor.Tensor, error) {
	flat, err := n.DataSource.Next(ctx)
	if err != nil {
		return nil, err
	}
	flat[5*n.numLayers+2].Float32s()[0] = float32(math.NaN())
	return flat, nil
}

func TestStepReportsNumericInstability(t *testing.T) {
	quiet(t)
	tensor.SetCheckNumerics(true)
	defer tensor.SetCheckNumerics(false)

	cfg := smallConfig(t)
	train := nanSource{DataSource: source(t, cfg, 1, 1, cfg.Seed), numLayers: cfg.NumLayers}
	tr := newTestTrainer(t, cfg, train)

	s := NewSession(cfg.LearningRate)
	err := tr.Train(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNumericInstability))
	var ne *tensor.NumericError
	assert.ErrorAs(t, err, &ne)
	assert.Equal(t, 1, s.Step)
}

func TestStepEndOfEpochAndCancel(t *testing.T) {
	quiet(t)
	cfg := smallConfig(t)
	tr := newTestTrainer(t, cfg, source(t, cfg, 1, 1, cfg.Seed))
	s := NewSession(cfg.LearningRate)

	res := tr.Step(context.Background(), s)
	require.Equal(t, Continue, res.Status, "%v", res.Err)
	assert.False(t, math.IsNaN(res.Loss))
	assert.Equal(t, EpochDone, tr.Step(context.Background(), s).Status)

	tr.train.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = tr.Step(ctx, s)
	assert.Equal(t, Fatal, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "Fatal", res.Status.String())
}

func TestEvaluateMatchesConfusionMatrix(t *testing.T) {
	quiet(t)
	cfg := smallConfig(t)
	cfg.ValSteps = 2
	tr := newTestTrainer(t, cfg, source(t, cfg, 1, 1, cfg.Seed))

	res, err := tr.Evaluate(context.Background(), NewSession(cfg.LearningRate))
	require.NoError(t, err)
	assert.Equal(t, res.Seen, res.Matrix.TotalSamples)
	assert.Positive(t, res.Seen)
	assert.InDelta(t, res.Matrix.GetMetric(OverallAccuracy), res.Accuracy, 1e-12)
	if !math.IsNaN(res.MeanIoU) {
		assert.GreaterOrEqual(t, res.MeanIoU, 0.0)
		assert.LessOrEqual(t, res.MeanIoU, 100.0)
	}
	assert.True(t, tr.net.Registry().Training())
}

func TestRunLogAppends(t *testing.T) {
	quiet(t)
	path := filepath.Join(t.TempDir(), "log.txt")
	for i := 0; i < 2; i++ {
		l, err := OpenRunLog(path)
		require.NoError(t, err)
		l.Printf("line %d", i)
		require.NoError(t, l.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line 0\nline 1\n", string(data))

	var nilLog *RunLog
	nilLog.Printf("no file")
	assert.NoError(t, nilLog.Close())
	assert.False(t, strings.Contains(string(data), "no file"))
}
