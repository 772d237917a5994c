package training

import (
	"time"

	"github.com/YuminosukeSato/beanscope/telemetry"
)

// EpochMetrics is the outcome of one train/validate cycle. Epoch is 1-based
// and LearningRate is read after the scheduler step.
type EpochMetrics struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	ValPrecision  float64
	ValRecall     float64
	ValF1         float64
	LearningRate  float64
}

// Record converts m to the telemetry per-epoch schema.
func (m EpochMetrics) Record(fold int) telemetry.EpochRecord {
	return telemetry.EpochRecord{
		Fold:         fold,
		Epoch:        m.Epoch,
		TrainLoss:    m.TrainLoss,
		TrainAcc:     m.TrainAccuracy,
		ValLoss:      m.ValLoss,
		ValAcc:       m.ValAccuracy,
		ValPrecision: m.ValPrecision,
		ValRecall:    m.ValRecall,
		ValF1:        m.ValF1,
		LearningRate: m.LearningRate,
	}
}

// FoldResult summarises one fold. History holds every evaluated epoch in
// order.
type FoldResult struct {
	Fold            int
	BestValAccuracy float64
	BestEpoch       int
	StoppedEarly    bool
	Duration        time.Duration
	History         []EpochMetrics
}

// Epochs returns the number of evaluated epochs.
func (r *FoldResult) Epochs() int { return len(r.History) }

// Last returns the final evaluated epoch.
func (r *FoldResult) Last() EpochMetrics {
	if len(r.History) == 0 {
		return EpochMetrics{}
	}
	return r.History[len(r.History)-1]
}

func (r *FoldResult) column(f func(EpochMetrics) float64) []float64 {
	out := make([]float64, len(r.History))
	for i, m := range r.History {
		out[i] = f(m)
	}
	return out
}

func (r *FoldResult) TrainLosses() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.TrainLoss })
}

func (r *FoldResult) TrainAccuracies() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.TrainAccuracy })
}

func (r *FoldResult) ValLosses() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.ValLoss })
}

func (r *FoldResult) ValAccuracies() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.ValAccuracy })
}

func (r *FoldResult) ValPrecisions() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.ValPrecision })
}

func (r *FoldResult) ValRecalls() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.ValRecall })
}

func (r *FoldResult) ValF1s() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.ValF1 })
}

func (r *FoldResult) LearningRates() []float64 {
	return r.column(func(m EpochMetrics) float64 { return m.LearningRate })
}
