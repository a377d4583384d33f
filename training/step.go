package training

import "time"

// StepStatus tells the training loop what a step observed.
type StepStatus int

const (
	// Continue: a batch was trained on.
	Continue StepStatus = iota
	// EpochDone: the training source is exhausted.
	EpochDone
	// Fatal: training cannot go on; StepResult.Err says why.
	Fatal
)

func (s StepStatus) String() string {
	switch s {
	case Continue:
		return "Continue"
	case EpochDone:
		return "EpochDone"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// StepResult is the outcome of Trainer.Step.
type StepResult struct {
	Status   StepStatus
	Loss     float64
	Accuracy float64
	Duration time.Duration
	Err      error
}

func fatal(err error) StepResult {
	return StepResult{Status: Fatal, Err: err}
}
