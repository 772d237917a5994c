package training

import (
	"math"
	"testing"
)

type stubOptimizer struct {
	lr    float64
	steps int
}

func (o *stubOptimizer) ZeroGrad()                       {}
func (o *stubOptimizer) Step() error                     { o.steps++; return nil }
func (o *stubOptimizer) LearningRate() float64           { return o.lr }
func (o *stubOptimizer) SetLearningRate(lr float64)      { o.lr = lr }
func (o *stubOptimizer) Steps() int                      { return o.steps }
func (o *stubOptimizer) StateDict() map[string][]float64 { return map[string][]float64{} }

func TestPlateauSchedulerHalvesAfterPatience(t *testing.T) {
	for _, patience := range []int{1, 3, 5} {
		opt := &stubOptimizer{lr: 1e-5}
		opts := DefaultPlateauOptions()
		opts.Patience = patience
		s, err := NewPlateauScheduler(opt, opts)
		if err != nil {
			t.Fatalf("NewPlateauScheduler: %v", err)
		}

		// Epoch 1 improves on +Inf; epochs 2..p+1 do not.
		reducedAt := 0
		for epoch := 1; epoch <= patience+1; epoch++ {
			if s.Step(1.0) {
				reducedAt = epoch
			}
		}
		if reducedAt != patience+1 {
			t.Errorf("patience %d: reduced at epoch %d, want %d", patience, reducedAt, patience+1)
		}
		if math.Abs(opt.lr-5e-6) > 1e-18 {
			t.Errorf("patience %d: lr = %v, want 5e-6", patience, opt.lr)
		}
		if s.BadEpochs() != 0 {
			t.Errorf("patience %d: counter not reset after reduction", patience)
		}
	}
}

func TestPlateauSchedulerThreshold(t *testing.T) {
	opt := &stubOptimizer{lr: 1}
	s, _ := NewPlateauScheduler(opt, DefaultPlateauOptions())

	s.Step(1.0)
	// Improvement below the 1e-4 relative threshold does not count.
	s.Step(0.99995)
	if s.BadEpochs() != 1 {
		t.Errorf("BadEpochs = %d, want 1", s.BadEpochs())
	}
	if s.Best() != 1.0 {
		t.Errorf("Best = %v, want 1.0", s.Best())
	}

	s.Step(0.9)
	if s.BadEpochs() != 0 || s.Best() != 0.9 {
		t.Errorf("expected reset on real improvement, got bad=%d best=%v", s.BadEpochs(), s.Best())
	}
}

func TestPlateauSchedulerRepeatedReductions(t *testing.T) {
	opt := &stubOptimizer{lr: 1}
	s, _ := NewPlateauScheduler(opt, DefaultPlateauOptions())

	var lrs []float64
	for epoch := 1; epoch <= 7; epoch++ {
		s.Step(2.0)
		lrs = append(lrs, opt.lr)
	}
	want := []float64{1, 1, 1, 0.5, 0.5, 0.5, 0.25}
	for i := range want {
		if lrs[i] != want[i] {
			t.Errorf("epoch %d lr = %v, want %v", i+1, lrs[i], want[i])
		}
	}
	if s.Reductions() != 2 {
		t.Errorf("Reductions = %d, want 2", s.Reductions())
	}
}

func TestPlateauSchedulerMinLRAndEps(t *testing.T) {
	opt := &stubOptimizer{lr: 1e-8}
	opts := DefaultPlateauOptions()
	opts.Patience = 0
	s, _ := NewPlateauScheduler(opt, opts)

	s.Step(1)
	if s.Step(1) {
		t.Error("reduction smaller than eps must be skipped")
	}
	if opt.lr != 1e-8 {
		t.Errorf("lr = %v, want unchanged", opt.lr)
	}

	opt.lr = 1
	opts.MinLR = 0.8
	s, _ = NewPlateauScheduler(opt, opts)
	s.Step(1)
	s.Step(1)
	if opt.lr != 0.8 {
		t.Errorf("lr = %v, want clamped to 0.8", opt.lr)
	}
}

func TestNewPlateauSchedulerValidation(t *testing.T) {
	opts := DefaultPlateauOptions()
	opts.Factor = 1
	if _, err := NewPlateauScheduler(&stubOptimizer{lr: 1}, opts); err == nil {
		t.Error("expected error for factor 1")
	}
}
