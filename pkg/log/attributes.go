// Package log defines standard attribute keys for training runs.
//
// The keys follow a hierarchical naming convention (e.g. "model.architecture",
// "cv.fold", "metrics.val_accuracy") so that a run's JSON log stream can be
// filtered by fold, epoch or metric without parsing messages.

package log

// Run and model context
const (
	// ArchitectureKey identifies the backbone being trained.
	// Examples: "efficientnet", "resnet50", "vit"
	ArchitectureKey = "model.architecture"

	// RunNameKey is the run identifier, "{model}_{YYYYMMDD-HHMM}".
	RunNameKey = "run.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "train_epoch", "validate", "checkpoint", "anova"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package emitted the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the epoch.
	PhaseKey = "ml.phase"

	// DeviceKey records the resolved compute device.
	DeviceKey = "infra.device"

	// TelemetryModeKey records which telemetry backend is active.
	TelemetryModeKey = "telemetry.mode"
)

// Cross-validation and schedule position
const (
	// FoldKey is the 1-based fold index.
	FoldKey = "cv.fold"

	// FoldsKey is the total number of folds.
	FoldsKey = "cv.folds"

	// EpochKey is the 1-based epoch index within a fold.
	EpochKey = "training.epoch"

	// EpochsKey is the epoch budget.
	EpochsKey = "training.epochs"

	// BatchKey is the 1-based batch index within an epoch.
	BatchKey = "training.batch"

	// BatchesKey is the number of batches in an epoch.
	BatchesKey = "training.batches"

	// PatienceKey is the early-stopping patience.
	PatienceKey = "training.patience"

	// NoImproveKey is the current number of epochs without improvement.
	NoImproveKey = "training.epochs_without_improvement"
)

// Data shape
const (
	// SamplesKey indicates the number of samples.
	SamplesKey = "data.samples"

	// ClassesKey indicates the number of classes.
	ClassesKey = "data.classes"

	// ClassNamesKey lists the class names in label order.
	ClassNamesKey = "data.class_names"

	// BatchSizeKey indicates the size of processing batches.
	BatchSizeKey = "data.batch_size"
)

// Metrics
const (
	DurationSecondsKey = "perf.duration_seconds"

	LossKey         = "metrics.loss"
	AccuracyKey     = "metrics.accuracy"
	TrainLossKey    = "metrics.train_loss"
	TrainAccKey     = "metrics.train_accuracy"
	ValLossKey      = "metrics.val_loss"
	ValAccKey       = "metrics.val_accuracy"
	ValPrecisionKey = "metrics.val_precision"
	ValRecallKey    = "metrics.val_recall"
	ValF1Key        = "metrics.val_f1"
	BestValAccKey   = "metrics.best_val_accuracy"

	// LearningRateKey records the optimizer learning rate after scheduling.
	LearningRateKey = "hyperparams.learning_rate"

	// RandomSeedKey records the seed used for fold assignment and shuffling.
	RandomSeedKey = "config.random_seed"

	// PathKey records a file written by the run (checkpoint, plot, log).
	PathKey = "io.path"
)

// Statistics
const (
	FStatisticKey = "anova.f_statistic"
	PValueKey     = "anova.p_value"
)

// Standard attribute values.
const (
	OperationTrainEpoch = "train_epoch"
	OperationValidate   = "validate"
	OperationCheckpoint = "checkpoint"
	OperationANOVA      = "anova"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
)
