package training

import (
	"context"
	"io"
	"time"

	"github.com/YuminosukeSato/beanscope/checkpoint"
	"github.com/YuminosukeSato/beanscope/dataset"
	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
	"github.com/YuminosukeSato/beanscope/telemetry"
)

// FoldRunner trains one fold to completion. It owns a fresh model,
// optimizer and scheduler; nothing is shared between folds.
type FoldRunner struct {
	Model     engine.Model
	Optimizer engine.Optimizer
	Criterion engine.Criterion
	Scheduler *PlateauScheduler
	Store     *checkpoint.Store
	Sink      telemetry.Sink
	Logger    log.Logger

	// RunName prefixes checkpoint files.
	RunName string

	// Epochs is the epoch budget; Patience the early-stopping patience.
	Epochs   int
	Patience int

	// Progress receives per-epoch batch progress bars when non-nil.
	Progress io.Writer

	trainEpoch func(engine.Model, *dataset.Loader, engine.Criterion, engine.Optimizer, EpochOptions) (TrainResult, error)
	validate   func(engine.Model, *dataset.Loader, engine.Criterion) (ValidationResult, error)
}

// Run executes the fold until the epoch budget is spent or early stopping
// triggers. Every strict improvement of validation accuracy overwrites the
// "best" checkpoint; a "final" checkpoint with the last epoch's state is
// written once at the end. Both are uploaded through the sink.
func (r *FoldRunner) Run(ctx context.Context, fold dataset.Fold) (*FoldResult, error) {
	if r.Epochs <= 0 {
		return nil, errors.NewValidationError("epochs", "must be positive", r.Epochs)
	}
	if r.Patience <= 0 {
		return nil, errors.NewValidationError("patience", "must be positive", r.Patience)
	}

	trainEpoch, validate := r.trainEpoch, r.validate
	if trainEpoch == nil {
		trainEpoch = TrainEpoch
	}
	if validate == nil {
		validate = Validate
	}

	logger := r.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("training")
	}
	logger = logger.With(log.FoldKey, fold.Index)

	logger.Info("Starting fold",
		log.LearningRateKey, r.Optimizer.LearningRate(),
		log.SamplesKey, fold.Train.Len()+fold.Validation.Len(),
		log.EpochsKey, r.Epochs,
		log.PatienceKey, r.Patience,
	)

	es := NewEarlyStopping(r.Patience)
	result := &FoldResult{Fold: fold.Index}
	start := time.Now()

	for epoch := 1; epoch <= r.Epochs; epoch++ {
		tr, err := trainEpoch(r.Model, fold.Train, r.Criterion, r.Optimizer, EpochOptions{
			Epoch:    epoch,
			Logger:   logger,
			Progress: r.Progress,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d epoch %d train", fold.Index, epoch)
		}

		vr, err := validate(r.Model, fold.Validation, r.Criterion)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d epoch %d validate", fold.Index, epoch)
		}

		if r.Scheduler != nil && r.Scheduler.Step(vr.Loss) {
			logger.Info("Reduced learning rate on plateau",
				log.EpochKey, epoch,
				log.LearningRateKey, r.Optimizer.LearningRate(),
			)
		}

		m := EpochMetrics{
			Epoch:         epoch,
			TrainLoss:     tr.Loss,
			TrainAccuracy: tr.Accuracy,
			ValLoss:       vr.Loss,
			ValAccuracy:   vr.Accuracy,
			ValPrecision:  vr.Precision,
			ValRecall:     vr.Recall,
			ValF1:         vr.F1,
			LearningRate:  r.Optimizer.LearningRate(),
		}
		result.History = append(result.History, m)

		if r.Sink != nil {
			if err := r.Sink.LogEpoch(ctx, m.Record(fold.Index)); err != nil {
				return nil, errors.Wrapf(err, "fold %d epoch %d telemetry", fold.Index, epoch)
			}
		}

		logger.Info("Epoch complete",
			log.EpochKey, epoch,
			log.EpochsKey, r.Epochs,
			log.TrainLossKey, m.TrainLoss,
			log.TrainAccKey, m.TrainAccuracy,
			log.ValLossKey, m.ValLoss,
			log.ValAccKey, m.ValAccuracy,
			log.ValPrecisionKey, m.ValPrecision,
			log.ValRecallKey, m.ValRecall,
			log.ValF1Key, m.ValF1,
			log.LearningRateKey, m.LearningRate,
		)

		previousBest := es.BestScore
		if es.Update(epoch, vr.Accuracy) {
			logger.Info("Validation accuracy improved",
				log.EpochKey, epoch,
				"previous", previousBest,
				log.BestValAccKey, es.BestScore,
			)
			if err := r.checkpoint(ctx, fold.Index, checkpoint.KindBest, epoch, vr.Accuracy); err != nil {
				return nil, err
			}
		} else {
			logger.Info("No improvement",
				log.EpochKey, epoch,
				log.NoImproveKey, es.EpochsWithoutImprovement,
			)
		}

		if es.ShouldStop() {
			result.StoppedEarly = true
			logger.Info("Early stopping triggered",
				log.EpochKey, epoch,
				log.PatienceKey, r.Patience,
			)
			break
		}
	}

	last := result.Last()
	if err := r.checkpoint(ctx, fold.Index, checkpoint.KindFinal, last.Epoch, last.ValAccuracy); err != nil {
		return nil, err
	}

	result.BestValAccuracy = es.BestScore
	result.BestEpoch = es.BestEpoch
	result.Duration = time.Since(start)

	logger.Info("Fold complete",
		log.DurationSecondsKey, result.Duration.Seconds(),
		log.BestValAccKey, result.BestValAccuracy,
		log.EpochKey, last.Epoch,
	)
	return result, nil
}

func (r *FoldRunner) checkpoint(ctx context.Context, fold int, kind checkpoint.Kind, epoch int, valAcc float64) error {
	if r.Store == nil {
		return nil
	}
	path, err := r.Store.Save(r.RunName, checkpoint.Capture(r.Model, r.Optimizer, fold, kind, epoch, valAcc))
	if err != nil {
		return errors.Wrapf(err, "fold %d save %s checkpoint", fold, kind)
	}
	if r.Sink != nil {
		if err := r.Sink.LogArtifact(ctx, path); err != nil {
			return errors.Wrapf(err, "fold %d upload %s checkpoint", fold, kind)
		}
	}
	return nil
}
