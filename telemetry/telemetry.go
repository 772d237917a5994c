// Package telemetry defines the sink the training loop reports to. A run
// opens one session, streams per-epoch metrics and artifacts into it, logs a
// summary and closes it with a terminal status. Backends live in the
// local and tracking sub-packages.
package telemetry

import (
	"context"
	"fmt"
	"time"
)

// Status is the terminal state of a session.
type Status string

const (
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
)

// Per-epoch metric names.
const (
	MetricTrainLoss    = "train_loss"
	MetricTrainAcc     = "train_acc"
	MetricValLoss      = "val_loss"
	MetricValAcc       = "val_acc"
	MetricValPrecision = "val_precision"
	MetricValRecall    = "val_recall"
	MetricValF1        = "val_f1"
	MetricLearningRate = "learning_rate"
)

// Run-summary metric names.
const (
	SummaryAvgValAcc       = "average_val_acc"
	SummaryAvgValF1        = "average_val_f1"
	SummaryAvgValRecall    = "average_val_recall"
	SummaryAvgValPrecision = "average_val_precision"

	SummaryANOVAFStatistic = "ANOVA/F-statistic"
	SummaryANOVAPValue     = "ANOVA/p-value"
	SummaryANOVAResult     = "ANOVA/Result"
)

// RunInfo identifies a session.
type RunInfo struct {
	// Name is the session name, "{model}_{YYYYMMDD-HHMM}" or
	// "comparison_{YYYYMMDD-HHMM}".
	Name string

	// Architecture is empty for comparison sessions.
	Architecture string

	// Params are the run hyperparameters.
	Params map[string]string

	// Config is the full configuration, persisted by backends that keep a
	// copy of it.
	Config any

	StartedAt time.Time
}

// EpochRecord is one row of the per-epoch schema.
type EpochRecord struct {
	Fold         int     `json:"fold" csv:"fold"`
	Epoch        int     `json:"epoch" csv:"epoch"`
	TrainLoss    float64 `json:"train_loss" csv:"train_loss"`
	TrainAcc     float64 `json:"train_acc" csv:"train_acc"`
	ValLoss      float64 `json:"val_loss" csv:"val_loss"`
	ValAcc       float64 `json:"val_acc" csv:"val_acc"`
	ValPrecision float64 `json:"val_precision" csv:"val_precision"`
	ValRecall    float64 `json:"val_recall" csv:"val_recall"`
	ValF1        float64 `json:"val_f1" csv:"val_f1"`
	LearningRate float64 `json:"learning_rate" csv:"learning_rate"`
}

// Metrics returns the record's metric values keyed by metric name.
func (r EpochRecord) Metrics() map[string]float64 {
	return map[string]float64{
		MetricTrainLoss:    r.TrainLoss,
		MetricTrainAcc:     r.TrainAcc,
		MetricValLoss:      r.ValLoss,
		MetricValAcc:       r.ValAcc,
		MetricValPrecision: r.ValPrecision,
		MetricValRecall:    r.ValRecall,
		MetricValF1:        r.ValF1,
		MetricLearningRate: r.LearningRate,
	}
}

// FoldMetricKey namespaces a metric by fold, e.g. "fold2/val_acc".
func FoldMetricKey(fold int, metric string) string {
	return fmt.Sprintf("fold%d/%s", fold, metric)
}

// ModelMetricKey namespaces a metric by architecture, e.g.
// "resnet50/avg_val_acc".
func ModelMetricKey(model, metric string) string {
	return model + "/" + metric
}

// Summary is logged once per session.
type Summary struct {
	Metrics map[string]float64
	Tags    map[string]string
}

// Sink receives a session's telemetry. Calls other than Open fail with
// errors.ErrSinkNotOpen until Open succeeds.
type Sink interface {
	Open(ctx context.Context, run RunInfo) error
	LogEpoch(ctx context.Context, record EpochRecord) error
	LogArtifact(ctx context.Context, path string) error
	LogSummary(ctx context.Context, summary Summary) error
	Close(ctx context.Context, status Status) error
}

// Factory creates a fresh Sink for each session.
type Factory func() (Sink, error)
