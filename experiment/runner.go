// Package experiment runs k-fold cross-validation for one or more
// architectures, reports the aggregated metrics and compares
// architectures with a one-way ANOVA.
package experiment

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/YuminosukeSato/beanscope/checkpoint"
	"github.com/YuminosukeSato/beanscope/config"
	"github.com/YuminosukeSato/beanscope/dataset"
	"github.com/YuminosukeSato/beanscope/device"
	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
	"github.com/YuminosukeSato/beanscope/stats"
	"github.com/YuminosukeSato/beanscope/telemetry"
	"github.com/YuminosukeSato/beanscope/training"
)

// TimestampLayout formats run-name timestamps, YYYYMMDD-HHMM.
const TimestampLayout = "20060102-1504"

// ComparisonPrefix names the comparison session of a multi-model run.
const ComparisonPrefix = "comparison"

// Runner drives whole experiments. Config, Backend and Sinks are required;
// the other fields have defaults.
type Runner struct {
	Config  *config.Config
	Backend engine.Backend
	Sinks   telemetry.Factory

	// Source overrides loading the image folder from Config.Data.
	Source dataset.Source

	// Architectures overrides Config.Architectures() for RunAll.
	Architectures []string

	Probe    device.Probe
	Logger   log.Logger
	Progress io.Writer // batch progress bars, used when Config.Progress is set
	Out      io.Writer // summary table, defaults to stdout
	Now      func() time.Time
}

// New creates a Runner with default device probing, stdout output and the
// wall clock.
func New(cfg *config.Config, backend engine.Backend, sinks telemetry.Factory) *Runner {
	return &Runner{
		Config:   cfg,
		Backend:  backend,
		Sinks:    sinks,
		Probe:    device.DefaultProbe(),
		Logger:   log.GetLoggerWithName("experiment"),
		Progress: os.Stderr,
		Out:      os.Stdout,
		Now:      time.Now,
	}
}

func (r *Runner) logger() log.Logger {
	if r.Logger == nil {
		r.Logger = log.GetLoggerWithName("experiment")
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// RunName is "{model}_{YYYYMMDD-HHMM}".
func RunName(prefix string, t time.Time) string {
	return prefix + "_" + t.Format(TimestampLayout)
}

func (r *Runner) source() (dataset.Source, error) {
	if r.Source != nil {
		return r.Source, nil
	}
	src, err := dataset.NewImageFolder(r.Config.Data.Dir, r.Config.Data.ImageSize, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "load dataset %s", r.Config.Data.Dir)
	}
	r.logger().Info("Loaded dataset",
		log.PathKey, r.Config.Data.Dir,
		log.SamplesKey, src.Len(),
		"data.class_distribution", src.ClassDistribution(),
	)
	r.Source = src
	return src, nil
}

// Run trains arch on every fold inside its own telemetry session and
// returns the aggregated report. The session is closed FAILED when the run
// fails.
func (r *Runner) Run(ctx context.Context, arch string) (report *ModelReport, err error) {
	if err := engine.ValidateArchitecture(arch); err != nil {
		return nil, err
	}
	cfg := r.Config
	logger := r.logger().With(log.ArchitectureKey, arch)

	dev, err := device.Select(cfg.Device, r.Probe, logger)
	if err != nil {
		return nil, err
	}

	src, err := r.source()
	if err != nil {
		return nil, err
	}
	classes := src.ClassNames()
	logger.Info("Classes", log.ClassNamesKey, classes, log.ClassesKey, len(classes))

	folds, err := dataset.NewFolds(src, dataset.FoldOptions{
		Folds:     cfg.Data.Folds,
		Seed:      cfg.Data.Seed,
		BatchSize: cfg.Training.BatchSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "split folds")
	}

	store, err := checkpoint.NewStore(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}

	started := r.now()
	runName := RunName(arch, started)
	logger = logger.With(log.RunNameKey, runName)

	params := cfg.Params()
	params["model"] = arch
	redacted := cfg.Redacted()
	redacted.Model = arch

	sink, err := r.Sinks()
	if err != nil {
		return nil, errors.Wrap(err, "create telemetry sink")
	}
	if err := sink.Open(ctx, telemetry.RunInfo{
		Name:         runName,
		Architecture: arch,
		Params:       params,
		Config:       redacted,
		StartedAt:    started,
	}); err != nil {
		return nil, errors.Wrapf(err, "open telemetry session %s", runName)
	}
	defer func() {
		status := telemetry.StatusFinished
		if err != nil {
			status = telemetry.StatusFailed
		}
		if cerr := sink.Close(ctx, status); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "close telemetry session %s", runName))
			report = nil
		}
	}()

	logger.Info("Starting cross-validation",
		log.DeviceKey, dev,
		log.FoldsKey, len(folds),
		log.SamplesKey, src.Len(),
		log.BatchSizeKey, cfg.Training.BatchSize,
		log.RandomSeedKey, cfg.Data.Seed,
	)

	results := make([]*training.FoldResult, 0, len(folds))
	for _, fold := range folds {
		res, err := r.runFold(ctx, arch, dev, runName, src, fold, store, sink, logger)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	report = NewModelReport(arch, runName, results)
	if err := sink.LogSummary(ctx, report.Summary()); err != nil {
		return nil, errors.Wrap(err, "log run summary")
	}

	logger.Info("Cross-validation complete",
		"summary.average_val_acc", report.AvgValAccuracy,
		"summary.average_val_f1", report.AvgValF1,
		"summary.average_val_recall", report.AvgValRecall,
		"summary.average_val_precision", report.AvgValPrecision,
	)
	return report, nil
}

func (r *Runner) runFold(ctx context.Context, arch, dev, runName string, src dataset.Source, fold dataset.Fold,
	store *checkpoint.Store, sink telemetry.Sink, logger log.Logger) (*training.FoldResult, error) {
	cfg := r.Config

	model, err := r.Backend.NewModel(engine.ModelSpec{
		Architecture: arch,
		NumClasses:   len(src.ClassNames()),
		InputDim:     src.InputDim(),
		Device:       dev,
		Seed:         cfg.Data.Seed + uint64(fold.Index),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fold %d build model", fold.Index)
	}
	opt, err := r.Backend.NewOptimizer(model.Parameters(), cfg.Training.LearningRate)
	if err != nil {
		return nil, errors.Wrapf(err, "fold %d build optimizer", fold.Index)
	}
	sched, err := training.NewPlateauScheduler(opt, training.PlateauOptions{
		Factor:    cfg.Training.PlateauFactor,
		Patience:  cfg.Training.PlateauPatience,
		Threshold: cfg.Training.PlateauThreshold,
		MinLR:     cfg.Training.MinLR,
		Eps:       training.DefaultPlateauOptions().Eps,
	})
	if err != nil {
		return nil, err
	}

	fr := &training.FoldRunner{
		Model:     model,
		Optimizer: opt,
		Criterion: engine.CrossEntropy{},
		Scheduler: sched,
		Store:     store,
		Sink:      sink,
		Logger:    logger,
		RunName:   runName,
		Epochs:    cfg.Training.Epochs,
		Patience:  cfg.Training.Patience,
	}
	if cfg.Progress {
		fr.Progress = r.Progress
	}
	return fr.Run(ctx, fold)
}

// RunAll runs every configured architecture, compares them with a one-way
// ANOVA over their pooled per-epoch validation accuracies and logs the
// comparison to a separate session. Any failed architecture aborts the
// experiment.
func (r *Runner) RunAll(ctx context.Context) (report *ComparisonReport, err error) {
	archs := r.Architectures
	if len(archs) == 0 {
		archs = r.Config.Architectures()
	}
	logger := r.logger()
	logger.Info("Training all models", "models", archs)

	report = &ComparisonReport{}
	groups := make([]stats.Group, 0, len(archs))
	for _, arch := range archs {
		m, err := r.Run(ctx, arch)
		if err != nil {
			return nil, errors.Wrapf(err, "train %s", arch)
		}
		report.Models = append(report.Models, m)
		groups = append(groups, stats.Group{Name: arch, Samples: m.AccuracySamples()})
		logger.Info("Model complete",
			log.ArchitectureKey, arch,
			"summary.average_val_acc", m.AvgValAccuracy,
			"summary.average_val_f1", m.AvgValF1,
		)
	}

	anova, err := stats.OneWayANOVA(groups)
	if err != nil {
		return nil, errors.Wrap(err, "compare models")
	}
	report.ANOVA = anova
	logger.Info("ANOVA results",
		log.OperationKey, log.OperationANOVA,
		log.FStatisticKey, anova.FStatistic,
		log.PValueKey, anova.PValue,
		"anova.verdict", anova.Verdict,
	)

	started := r.now()
	report.RunName = RunName(ComparisonPrefix, started)
	if err := r.logComparison(ctx, report, started); err != nil {
		return nil, err
	}

	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	if err := report.WriteTable(out); err != nil {
		return nil, errors.Wrap(err, "write summary table")
	}
	return report, nil
}

func (r *Runner) logComparison(ctx context.Context, report *ComparisonReport, started time.Time) (err error) {
	sink, err := r.Sinks()
	if err != nil {
		return errors.Wrap(err, "create telemetry sink")
	}
	if err := sink.Open(ctx, telemetry.RunInfo{
		Name:      report.RunName,
		Params:    r.Config.Params(),
		Config:    r.Config.Redacted(),
		StartedAt: started,
	}); err != nil {
		return errors.Wrapf(err, "open telemetry session %s", report.RunName)
	}
	defer func() {
		status := telemetry.StatusFinished
		if err != nil {
			status = telemetry.StatusFailed
		}
		if cerr := sink.Close(ctx, status); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "close telemetry session %s", report.RunName))
		}
	}()
	if err := sink.LogSummary(ctx, report.Summary()); err != nil {
		return errors.Wrap(err, "log comparison summary")
	}
	return nil
}
