package training

// LRScheduler defines the interface for learning rate scheduling strategies.
// GetLR is a pure function of the epoch and step.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// EpochDecayScheduler multiplies the base rate by the decay factor of every
// epoch entered so far: lr(e) = base · Π_{i=1..e} Decay(i).
type EpochDecayScheduler struct {
	Decay func(epoch int) float64
}

// NewEpochDecayScheduler creates a scheduler from a per-epoch factor
// lookup, such as config.Config.DecayFor.
func NewEpochDecayScheduler(decay func(epoch int) float64) *EpochDecayScheduler {
	return &EpochDecayScheduler{Decay: decay}
}

func (s *EpochDecayScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	lr := baseLR
	for e := 1; e <= epoch; e++ {
		lr *= s.Decay(e)
	}
	return lr
}

func (s *EpochDecayScheduler) GetName() string {
	return "EpochDecay"
}
