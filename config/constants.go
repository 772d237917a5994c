package config

const (
	// DefaultModel is the architecture trained when --model is not given.
	DefaultModel = "efficientnet"

	// DefaultBatchSize is the mini-batch size.
	DefaultBatchSize = 32

	// DefaultLearningRate is the initial optimizer learning rate.
	DefaultLearningRate = 1e-5

	// DefaultEpochs is the per-fold epoch budget.
	DefaultEpochs = 100

	// DefaultPatience is the early-stopping patience in epochs.
	DefaultPatience = 10
)

const (
	// DefaultPlateauPatience is the number of non-improving val-loss epochs
	// tolerated before the learning rate is reduced.
	DefaultPlateauPatience = 3

	// DefaultPlateauFactor multiplies the learning rate on a plateau.
	DefaultPlateauFactor = 0.5

	// DefaultPlateauThreshold is the relative improvement a val loss needs
	// over the best seen so far to count as better.
	DefaultPlateauThreshold = 1e-4
)

const (
	// DefaultDataDir is the image-folder dataset root.
	DefaultDataDir = "data"

	// DefaultImageSize is the square side images are resized to.
	DefaultImageSize = 224

	// DefaultFolds is the number of cross-validation folds.
	DefaultFolds = 5

	// DefaultSeed seeds fold assignment and shuffling.
	DefaultSeed = 42
)

const (
	// DefaultOutputDir receives checkpoint files.
	DefaultOutputDir = "checkpoints"

	// DefaultLogDir receives local telemetry runs.
	DefaultLogDir = "runs"

	// DefaultLogLevel is the process log level.
	DefaultLogLevel = "info"
)

const (
	// DefaultExperiment is the tracking-service experiment name.
	DefaultExperiment = "CoffeeBeanDefectClassification"

	// DefaultEnvFile is read for tracking credentials when present.
	DefaultEnvFile = ".env"

	// DefaultConfigFile is read when present and --config is not given.
	DefaultConfigFile = "beanscope.yaml"
)

// Device preferences.
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceMPS  = "mps"
	DeviceCPU  = "cpu"
)

// Telemetry modes.
const (
	// TelemetryTracking logs to a remote tracking service.
	TelemetryTracking = "tracking"

	// TelemetryLocal writes run logs to the local filesystem.
	TelemetryLocal = "local"
)

var (
	// Devices lists the accepted device preferences.
	Devices = []string{DeviceAuto, DeviceCUDA, DeviceMPS, DeviceCPU}

	// TelemetryModes lists the accepted telemetry modes.
	TelemetryModes = []string{TelemetryTracking, TelemetryLocal}

	// LogLevels lists the accepted log levels.
	LogLevels = []string{"debug", "info", "warn", "error"}
)
