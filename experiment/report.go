package experiment

import (
	"fmt"
	"io"
	"text/tabwriter"

	mstats "github.com/montanaflynn/stats"

	"github.com/YuminosukeSato/beanscope/stats"
	"github.com/YuminosukeSato/beanscope/telemetry"
	"github.com/YuminosukeSato/beanscope/training"
)

// ModelReport summarises one architecture run across its folds.
//
// AvgValAccuracy averages the per-fold best accuracies, while the F1,
// recall and precision averages are the mean over folds of each fold's
// mean over every evaluated epoch. The two are deliberately not comparable.
type ModelReport struct {
	Architecture string
	RunName      string
	Folds        []*training.FoldResult

	AvgValAccuracy  float64
	AvgValF1        float64
	AvgValRecall    float64
	AvgValPrecision float64

	// MeanPrecision and MeanRecall pool every epoch of every fold.
	MeanPrecision float64
	MeanRecall    float64
}

// NewModelReport aggregates fold results.
func NewModelReport(arch, runName string, folds []*training.FoldResult) *ModelReport {
	r := &ModelReport{Architecture: arch, RunName: runName, Folds: folds}

	var best, f1, recall, precision []float64
	var allPrecision, allRecall []float64
	for _, f := range folds {
		best = append(best, f.BestValAccuracy)
		f1 = append(f1, mean(f.ValF1s()))
		recall = append(recall, mean(f.ValRecalls()))
		precision = append(precision, mean(f.ValPrecisions()))
		allPrecision = append(allPrecision, f.ValPrecisions()...)
		allRecall = append(allRecall, f.ValRecalls()...)
	}

	r.AvgValAccuracy = mean(best)
	r.AvgValF1 = mean(f1)
	r.AvgValRecall = mean(recall)
	r.AvgValPrecision = mean(precision)
	r.MeanPrecision = mean(allPrecision)
	r.MeanRecall = mean(allRecall)
	return r
}

// AccuracySamples pools the validation accuracy of every epoch of every
// fold.
func (r *ModelReport) AccuracySamples() []float64 {
	var out []float64
	for _, f := range r.Folds {
		out = append(out, f.ValAccuracies()...)
	}
	return out
}

// Summary is the run-summary telemetry of a single architecture.
func (r *ModelReport) Summary() telemetry.Summary {
	return telemetry.Summary{Metrics: map[string]float64{
		telemetry.SummaryAvgValAcc:       r.AvgValAccuracy,
		telemetry.SummaryAvgValF1:        r.AvgValF1,
		telemetry.SummaryAvgValRecall:    r.AvgValRecall,
		telemetry.SummaryAvgValPrecision: r.AvgValPrecision,
	}}
}

// ComparisonReport is the outcome of a multi-architecture run.
type ComparisonReport struct {
	RunName string
	Models  []*ModelReport
	ANOVA   *stats.ANOVAResult
}

// Summary is the comparison session's telemetry: per-model averages, the
// ANOVA statistics and the verdict tag.
func (c *ComparisonReport) Summary() telemetry.Summary {
	s := telemetry.Summary{
		Metrics: map[string]float64{},
		Tags:    map[string]string{},
	}
	for _, m := range c.Models {
		s.Metrics[telemetry.ModelMetricKey(m.Architecture, "avg_val_acc")] = m.AvgValAccuracy
		s.Metrics[telemetry.ModelMetricKey(m.Architecture, "avg_val_f1")] = m.AvgValF1
		s.Metrics[telemetry.ModelMetricKey(m.Architecture, "avg_val_recall")] = m.AvgValRecall
		s.Metrics[telemetry.ModelMetricKey(m.Architecture, "avg_val_precision")] = m.AvgValPrecision
	}
	if c.ANOVA != nil {
		s.Metrics[telemetry.SummaryANOVAFStatistic] = c.ANOVA.FStatistic
		s.Metrics[telemetry.SummaryANOVAPValue] = c.ANOVA.PValue
		s.Tags[telemetry.SummaryANOVAResult] = c.ANOVA.Verdict
	}
	return s
}

// WriteTable prints the per-model summary table and the ANOVA result.
func (c *ComparisonReport) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tACCURACY\tF1\tPRECISION\tRECALL")
	for _, m := range c.Models {
		fmt.Fprintf(tw, "%s\t%.2f%%\t%.4f\t%.4f\t%.4f\n", m.Architecture, m.AvgValAccuracy, m.AvgValF1, m.MeanPrecision, m.MeanRecall)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if c.ANOVA != nil {
		_, err := fmt.Fprintf(w, "\nANOVA: F-statistic = %.4f, p-value = %.4f\n%s\n", c.ANOVA.FStatistic, c.ANOVA.PValue, c.ANOVA.Verdict)
		return err
	}
	return nil
}

// mean is 0 for an empty slice.
func mean(xs []float64) float64 {
	m, err := mstats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}
