package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/tsawler/waterfall-net/checkpoints"
	"github.com/tsawler/waterfall-net/config"
	"github.com/tsawler/waterfall-net/dataset"
	"github.com/tsawler/waterfall-net/network"
	"github.com/tsawler/waterfall-net/optimizer"
	"github.com/tsawler/waterfall-net/runstore"
	"github.com/tsawler/waterfall-net/tensor"
)

// ErrNumericInstability is returned when a step produces NaN or Inf.
var ErrNumericInstability = errors.New("numeric instability")

// LogEvery is the step interval of the training and validation progress
// lines.
const LogEvery = 50

// EpochRecorder persists the evaluation summary of every finished epoch.
type EpochRecorder interface {
	RecordEpoch(ctx context.Context, e runstore.Epoch) error
}

// Trainer runs the optimisation loop of a Network over a training
// source and evaluates it on a validation source after every epoch.
type Trainer struct {
	cfg       *config.Config
	net       *network.Network
	opt       optimizer.Optimizer
	scheduler LRScheduler
	train     dataset.DataSource
	val       dataset.DataSource

	classWeights []float32
	remap        []int32

	snapshots *checkpoints.Manager
	recorder  EpochRecorder
	log       *RunLog
	plotPath  string
}

// Option configures optional Trainer collaborators.
type Option func(*Trainer)

// WithCheckpoints saves a snapshot through m whenever mIoU improves.
func WithCheckpoints(m *checkpoints.Manager) Option {
	return func(t *Trainer) { t.snapshots = m }
}

// WithRecorder stores every epoch summary through r.
func WithRecorder(r EpochRecorder) Option {
	return func(t *Trainer) { t.recorder = r }
}

// WithRunLog mirrors log lines to l.
func WithRunLog(l *RunLog) Option {
	return func(t *Trainer) { t.log = l }
}

// WithPlot redraws the training curves to path after every epoch.
func WithPlot(path string) Option {
	return func(t *Trainer) { t.plotPath = path }
}

// NewTrainer wires the optimizer selected by cfg to the network's
// parameters.
func NewTrainer(cfg *config.Config, net *network.Network, train, val dataset.DataSource, opts ...Option) (*Trainer, error) {
	weights, err := ClassWeights(cfg.ClassCounts, cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	remap, err := LabelRemap(cfg.NumClasses, cfg.IgnoredLabelInds)
	if err != nil {
		return nil, err
	}
	opt, err := newOptimizer(cfg, net)
	if err != nil {
		return nil, err
	}
	t := &Trainer{
		cfg:          cfg,
		net:          net,
		opt:          opt,
		scheduler:    NewEpochDecayScheduler(cfg.DecayFor),
		train:        train,
		val:          val,
		classWeights: weights,
		remap:        remap,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func newOptimizer(cfg *config.Config, net *network.Network) (optimizer.Optimizer, error) {
	params := net.Registry().NamedParameters()
	switch cfg.Optimizer {
	case "sgd":
		c := optimizer.DefaultSGDConfig()
		c.LearningRate = float32(cfg.LearningRate)
		c.Momentum = float32(cfg.Momentum)
		return optimizer.NewSGDOptimizer(c, params)
	default:
		c := optimizer.DefaultAdamConfig()
		c.LearningRate = float32(cfg.LearningRate)
		return optimizer.NewAdamOptimizer(c, params)
	}
}

// Optimizer exposes the optimizer for inspection.
func (t *Trainer) Optimizer() optimizer.Optimizer { return t.opt }

// Train runs steps until s.Epoch reaches MaxEpoch. It returns
// ErrNumericInstability (wrapped) when a step yields NaN or Inf, and the
// context error on cancellation.
func (t *Trainer) Train(ctx context.Context, s *Session) error {
	if len(t.cfg.IgnoredLabelInds) > 1 {
		t.log.Printf("warning: %d ignored labels configured; evaluation masks only label %d",
			len(t.cfg.IgnoredLabelInds), t.cfg.IgnoredLabelInds[0])
	}
	t.opt.UpdateLearningRate(float32(s.LearningRate))
	t.log.Printf("****EPOCH %d****", s.Epoch)

	for s.Epoch < t.cfg.MaxEpoch {
		res := t.Step(ctx, s)
		switch res.Status {
		case EpochDone:
			if err := t.endEpoch(ctx, s); err != nil {
				return err
			}
		case Fatal:
			return res.Err
		}
	}
	Logf("finished")
	return nil
}

// Step runs one optimisation step on the next training batch.
func (t *Trainer) Step(ctx context.Context, s *Session) StepResult {
	start := time.Now()
	flat, err := t.train.Next(ctx)
	if errors.Is(err, dataset.ErrEndOfEpoch) {
		return StepResult{Status: EpochDone}
	}
	if err != nil {
		return fatal(fmt.Errorf("training batch: %w", err))
	}
	in, err := network.InputsFromFlat(flat, t.cfg.NumLayers)
	if err != nil {
		return fatal(err)
	}

	t.net.SetTraining(true)
	logits, err := t.net.Forward(in)
	if err != nil {
		return t.failure(s, err)
	}

	labels := in.Labels.Int32s()
	positions, valid := SelectValid(labels, IgnoredMask(labels, t.cfg.IgnoredLabelInds), t.remap)
	loss, err := WeightedCrossEntropy(logits, positions, valid, t.classWeights)
	if err != nil {
		return t.failure(s, err)
	}
	value, err := loss.Item()
	if err != nil {
		return fatal(err)
	}
	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return t.failure(s, &tensor.NumericError{
			Op:          "WeightedCrossEntropy",
			InputShapes: [][]int{logits.Shape},
			OutputShape: loss.Shape,
			NaNs:        boolInt(math.IsNaN(float64(value))),
			Infs:        boolInt(math.IsInf(float64(value), 0)),
		})
	}

	t.net.Registry().ZeroGrad()
	if err := loss.Backward(); err != nil {
		return t.failure(s, err)
	}
	if err := t.opt.Step(); err != nil {
		return fatal(err)
	}

	acc := TopOneAccuracy(logits, positions, valid)
	elapsed := time.Since(start)
	if s.Step%LogEvery == 0 {
		t.log.Printf("Step %08d L_out=%5.3f Acc=%4.2f ---%8.2f ms/batch",
			s.Step, value, acc, float64(elapsed.Microseconds())/1000)
	}
	s.addLoss(float64(value))
	s.Step++
	return StepResult{Status: Continue, Loss: float64(value), Accuracy: acc, Duration: elapsed}
}

// failure turns numeric errors into a logged ErrNumericInstability.
func (t *Trainer) failure(s *Session, err error) StepResult {
	var ne *tensor.NumericError
	if !errors.As(err, &ne) {
		return fatal(err)
	}
	t.log.Printf("Caught a NaN error at step %d:", s.Step)
	t.log.Printf("op: %s", ne.Op)
	t.log.Printf("inputs: %v", ne.InputShapes)
	t.log.Printf("output: %v (%d NaN, %d Inf)", ne.OutputShape, ne.NaNs, ne.Infs)
	return fatal(fmt.Errorf("%w: %w", ErrNumericInstability, err))
}

func (t *Trainer) endEpoch(ctx context.Context, s *Session) error {
	res, err := t.Evaluate(ctx, s)
	if err != nil {
		return err
	}
	if res.MeanIoU > s.BestMIoU() && t.cfg.Saving && t.snapshots != nil {
		if err := t.saveSnapshot(s, res.MeanIoU); err != nil {
			return err
		}
	}
	s.MIoUHistory = append(s.MIoUHistory, res.MeanIoU)
	t.log.Printf("Best m_IoU is: %5.3f", s.BestMIoU())
	meanLoss := s.closeEpoch()

	if t.recorder != nil {
		err := t.recorder.RecordEpoch(ctx, runstore.Epoch{
			RunID:        s.RunID,
			Epoch:        s.Epoch,
			Step:         s.Step,
			MeanIoU:      res.MeanIoU,
			Accuracy:     res.Accuracy,
			LearningRate: s.LearningRate,
			TrainLoss:    meanLoss,
			IoU:          res.IoU,
		})
		if err != nil {
			t.log.Printf("failed to record epoch %d: %v", s.Epoch, err)
		}
	}
	if t.plotPath != "" {
		if err := PlotHistory(t.plotPath, s); err != nil {
			t.log.Printf("failed to plot training curves: %v", err)
		}
	}

	s.Epoch++
	t.train.Reset()
	s.LearningRate = t.scheduler.GetLR(s.Epoch, s.Step, t.cfg.LearningRate)
	t.opt.UpdateLearningRate(float32(s.LearningRate))
	t.log.Printf("****EPOCH %d****", s.Epoch)
	return nil
}

func (t *Trainer) saveSnapshot(s *Session, miou float64) error {
	history := make([]float64, 0, len(s.MIoUHistory)+1)
	for _, v := range append(append([]float64(nil), s.MIoUHistory...), miou) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		history = append(history, v)
	}
	state, err := t.opt.GetState()
	if err != nil {
		return fmt.Errorf("optimizer state: %w", err)
	}
	reg := t.net.Registry()
	c := &checkpoints.Checkpoint{
		ModelSpec: reg.Spec(),
		Weights:   checkpoints.ExtractWeights(reg),
		TrainingState: checkpoints.TrainingState{
			Epoch:        s.Epoch,
			Step:         s.Step,
			LearningRate: float32(s.LearningRate),
			BestMIoU:     miou,
			MIoUHistory:  history,
		},
		OptimizerState: state.ToCheckpoint(),
		Metadata: checkpoints.CheckpointMetadata{
			RunID:       s.RunID,
			Description: fmt.Sprintf("%s%s epoch %d", t.cfg.DatasetName, t.cfg.ValSplit, s.Epoch),
		},
	}
	path, err := t.snapshots.Save(c)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	Logf("saved snapshot %s", filepath.Base(path))
	return nil
}

// Restore loads a snapshot into the network and optimizer and returns
// the session it was taken in. Training resumes at the next epoch.
func (t *Trainer) Restore(path string) (*Session, error) {
	c, err := checkpoints.Load(path)
	if err != nil {
		return nil, err
	}
	if err := checkpoints.LoadWeights(t.net.Registry(), c.Weights); err != nil {
		return nil, fmt.Errorf("restore weights: %w", err)
	}
	if c.OptimizerState != nil {
		if err := t.opt.LoadState(optimizer.FromCheckpoint(c.OptimizerState)); err != nil {
			return nil, fmt.Errorf("restore optimizer: %w", err)
		}
	}
	ts := c.TrainingState
	s := NewSession(float64(ts.LearningRate))
	s.Epoch = ts.Epoch + 1
	s.Step = ts.Step
	s.RunID = c.Metadata.RunID
	if len(ts.MIoUHistory) > 0 {
		s.MIoUHistory = append([]float64(nil), ts.MIoUHistory...)
	}
	s.LearningRate = t.scheduler.GetLR(s.Epoch, s.Step, t.cfg.LearningRate)
	return s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
