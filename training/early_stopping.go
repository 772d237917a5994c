package training

// EarlyStopping tracks validation accuracy for one fold. A score counts as
// an improvement only when it is strictly greater than BestScore, so ties
// increment the counter.
type EarlyStopping struct {
	Patience                 int     // Epochs without improvement before stopping
	BestScore                float64 // Best validation accuracy so far, starts at 0
	BestEpoch                int     // Epoch of BestScore, 0 before any improvement
	EpochsWithoutImprovement int
	Stopped                  bool
}

// NewEarlyStopping creates an early-stopping tracker.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience}
}

// Update records the score of epoch and reports whether it improved on the
// best. Once stopped the state is frozen.
func (es *EarlyStopping) Update(epoch int, score float64) bool {
	if es.Stopped {
		return false
	}

	improved := score > es.BestScore
	if improved {
		es.BestScore = score
		es.BestEpoch = epoch
		es.EpochsWithoutImprovement = 0
	} else {
		es.EpochsWithoutImprovement++
	}

	if es.EpochsWithoutImprovement >= es.Patience {
		es.Stopped = true
	}
	return improved
}

// ShouldStop returns whether the fold should end.
func (es *EarlyStopping) ShouldStop() bool {
	return es.Stopped
}
