package training

import (
	"math"

	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// PlateauOptions configures a PlateauScheduler.
type PlateauOptions struct {
	Factor    float64 // Multiplier applied to the learning rate, in (0, 1)
	Patience  int     // Non-improving epochs tolerated before reducing
	Threshold float64 // Relative improvement needed over the best loss
	MinLR     float64 // Lower bound for the learning rate
	Eps       float64 // Reductions smaller than this are skipped
}

// DefaultPlateauOptions halves the learning rate after three epochs without
// a 0.01% relative val-loss improvement.
func DefaultPlateauOptions() PlateauOptions {
	return PlateauOptions{
		Factor:    0.5,
		Patience:  3,
		Threshold: 1e-4,
		MinLR:     0,
		Eps:       1e-8,
	}
}

// PlateauScheduler reduces an optimizer's learning rate when the monitored
// loss stops improving.
type PlateauScheduler struct {
	optimizer  engine.Optimizer
	opts       PlateauOptions
	best       float64
	numBad     int
	reductions int
}

// NewPlateauScheduler creates a scheduler in "min" mode. The initial best is
// +Inf, so the first finite loss always improves.
func NewPlateauScheduler(optimizer engine.Optimizer, opts PlateauOptions) (*PlateauScheduler, error) {
	if opts.Factor <= 0 || opts.Factor >= 1 {
		return nil, errors.NewValidationError("factor", "must be in (0, 1)", opts.Factor)
	}
	if opts.Patience < 0 {
		return nil, errors.NewValidationError("patience", "must not be negative", opts.Patience)
	}
	return &PlateauScheduler{
		optimizer: optimizer,
		opts:      opts,
		best:      math.Inf(1),
	}, nil
}

// Step feeds one epoch's loss and reports whether the learning rate was
// reduced. The bad-epoch counter resets after a reduction.
func (s *PlateauScheduler) Step(loss float64) bool {
	if loss < s.best*(1-s.opts.Threshold) {
		s.best = loss
		s.numBad = 0
		return false
	}

	s.numBad++
	if s.numBad < s.opts.Patience {
		return false
	}
	s.numBad = 0

	oldLR := s.optimizer.LearningRate()
	newLR := math.Max(oldLR*s.opts.Factor, s.opts.MinLR)
	if oldLR-newLR <= s.opts.Eps {
		return false
	}
	s.optimizer.SetLearningRate(newLR)
	s.reductions++
	return true
}

// Best returns the lowest loss seen.
func (s *PlateauScheduler) Best() float64 { return s.best }

// BadEpochs returns the current non-improving streak.
func (s *PlateauScheduler) BadEpochs() int { return s.numBad }

// Reductions returns how many times the learning rate was reduced.
func (s *PlateauScheduler) Reductions() int { return s.reductions }
