// Package training drives one cross-validation fold: per-epoch training
// and validation, plateau learning-rate scheduling, early stopping and
// checkpointing on improvement.
package training

import (
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/YuminosukeSato/beanscope/dataset"
	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/metrics"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
)

// logEvery is the batch interval of the running-loss debug line.
const logEvery = 10

// TrainResult is the outcome of one training epoch. Accuracy is a
// percentage.
type TrainResult struct {
	Loss     float64
	Accuracy float64
}

// ValidationResult is the outcome of one validation pass. Accuracy is a
// percentage; Precision, Recall and F1 are macro averages in [0, 1].
type ValidationResult struct {
	Loss      float64
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// EpochOptions carries per-epoch context for TrainEpoch.
type EpochOptions struct {
	// Epoch is the 1-based epoch index; it also seeds the batch order.
	Epoch int

	Logger log.Logger

	// Progress receives a batch progress bar when non-nil.
	Progress io.Writer
}

// TrainEpoch runs one pass over loader in training mode: for each batch it
// zeroes gradients, runs forward, loss and backward, and steps the
// optimizer. Loss is the mean over batches. Any error, including a
// recovered backend panic, aborts the epoch.
func TrainEpoch(model engine.Model, loader *dataset.Loader, criterion engine.Criterion, optimizer engine.Optimizer, opts EpochOptions) (result TrainResult, err error) {
	defer errors.Recover(&err, "train epoch")

	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("training")
	}

	model.Train()

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(loader.NumBatches(),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("train"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		runningLoss float64
		correct     int
		total       int
		batches     int
		numBatches  = loader.NumBatches()
	)
	err = loader.ForEach(opts.Epoch, func(i int, batch dataset.Batch) error {
		optimizer.ZeroGrad()

		out, err := model.Forward(batch.Inputs)
		if err != nil {
			return errors.Wrapf(err, "forward batch %d", i+1)
		}
		loss, err := criterion.Forward(out, batch.Labels)
		if err != nil {
			return errors.Wrapf(err, "loss batch %d", i+1)
		}
		if err := loss.Backward(); err != nil {
			return errors.Wrapf(err, "backward batch %d", i+1)
		}
		if err := optimizer.Step(); err != nil {
			return errors.Wrapf(err, "optimizer step batch %d", i+1)
		}

		runningLoss += loss.Value()
		for j, p := range engine.ArgMax(out.Logits()) {
			if p == batch.Labels[j] {
				correct++
			}
		}
		total += batch.Size()
		batches++

		if (i+1)%logEvery == 0 {
			logger.Debug("Training progress",
				log.EpochKey, opts.Epoch,
				log.BatchKey, i+1,
				log.BatchesKey, numBatches,
				log.LossKey, runningLoss/float64(batches),
				log.AccuracyKey, 100*float64(correct)/float64(total),
			)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		return nil
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return TrainResult{}, err
	}
	if total == 0 {
		return TrainResult{}, errors.ErrEmptyData
	}

	return TrainResult{
		Loss:     runningLoss / float64(batches),
		Accuracy: 100 * float64(correct) / float64(total),
	}, nil
}

// Validate runs loader through model in evaluation mode and scores the
// predictions. It never touches optimizer state.
func Validate(model engine.Model, loader *dataset.Loader, criterion engine.Criterion) (result ValidationResult, err error) {
	defer errors.Recover(&err, "validate")

	model.Eval()

	var (
		lossSum float64
		batches int
		yTrue   []int
		yPred   []int
	)
	err = loader.ForEach(0, func(i int, batch dataset.Batch) error {
		out, err := model.Forward(batch.Inputs)
		if err != nil {
			return errors.Wrapf(err, "forward batch %d", i+1)
		}
		loss, err := criterion.Forward(out, batch.Labels)
		if err != nil {
			return errors.Wrapf(err, "loss batch %d", i+1)
		}
		lossSum += loss.Value()
		batches++
		yTrue = append(yTrue, batch.Labels...)
		yPred = append(yPred, engine.ArgMax(out.Logits())...)
		return nil
	})
	if err != nil {
		return ValidationResult{}, err
	}
	if batches == 0 {
		return ValidationResult{}, errors.ErrEmptyData
	}

	report, err := metrics.ClassificationReport(yTrue, yPred)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		Loss:      lossSum / float64(batches),
		Accuracy:  100 * report.Accuracy,
		Precision: report.Precision,
		Recall:    report.Recall,
		F1:        report.F1,
	}, nil
}
