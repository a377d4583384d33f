package training

import (
	"gonum.org/v1/gonum/floats"
)

// Session carries the counters of a training run between Train and
// Evaluate calls and into snapshots.
type Session struct {
	Epoch        int
	Step         int
	LearningRate float64
	// MIoUHistory starts with a 0 entry so the first evaluation above
	// zero counts as an improvement.
	MIoUHistory []float64
	// EpochLosses holds the mean training loss of every finished epoch.
	EpochLosses []float64
	RunID       string

	lossSum   float64
	lossSteps int
}

// NewSession starts a run at step 1, epoch 0.
func NewSession(learningRate float64) *Session {
	return &Session{
		Step:         1,
		LearningRate: learningRate,
		MIoUHistory:  []float64{0},
	}
}

// BestMIoU is the largest value in MIoUHistory.
func (s *Session) BestMIoU() float64 {
	if len(s.MIoUHistory) == 0 {
		return 0
	}
	return floats.Max(s.MIoUHistory)
}

func (s *Session) addLoss(loss float64) {
	s.lossSum += loss
	s.lossSteps++
}

// closeEpoch appends the running mean loss to EpochLosses and resets it.
func (s *Session) closeEpoch() float64 {
	mean := 0.0
	if s.lossSteps > 0 {
		mean = s.lossSum / float64(s.lossSteps)
	}
	s.EpochLosses = append(s.EpochLosses, mean)
	s.lossSum, s.lossSteps = 0, 0
	return mean
}
