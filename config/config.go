// Package config holds the run configuration. A Config is built from New()
// defaults, overlaid with a YAML file and command-line flags, then checked
// with Validate. It is not modified once the run starts.
package config

import (
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

type Config struct {
	// Model is the architecture to train. Ignored when All is set.
	Model string `yaml:"model" mapstructure:"model"`

	// All trains every supported architecture and compares them.
	All bool `yaml:"all" mapstructure:"all"`

	// Device is the compute device preference: auto, cuda, mps or cpu.
	Device string `yaml:"device" mapstructure:"device"`

	// LogLevel is the process log level.
	LogLevel string `yaml:"logLevel" mapstructure:"logLevel"`

	// Progress shows a per-epoch batch progress bar on stderr.
	Progress bool `yaml:"progress" mapstructure:"progress"`

	// Data configuration.
	Data DataConfig `yaml:"data" mapstructure:"data"`

	// Training configuration.
	Training TrainingConfig `yaml:"training" mapstructure:"training"`

	// Output configuration.
	Output OutputConfig `yaml:"output" mapstructure:"output"`

	// Telemetry configuration.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

type DataConfig struct {
	// Dir is the image-folder root, one sub-directory per class.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// ImageSize is the side length images are resized to.
	ImageSize int `yaml:"imageSize" mapstructure:"imageSize"`

	// Folds is the number of cross-validation folds.
	Folds int `yaml:"folds" mapstructure:"folds"`

	// Seed makes fold membership and shuffling reproducible.
	Seed uint64 `yaml:"seed" mapstructure:"seed"`
}

type TrainingConfig struct {
	// BatchSize is the mini-batch size.
	BatchSize int `yaml:"batchSize" mapstructure:"batchSize"`

	// LearningRate is the initial learning rate of every fold.
	LearningRate float64 `yaml:"learningRate" mapstructure:"learningRate"`

	// Epochs is the per-fold epoch budget.
	Epochs int `yaml:"epochs" mapstructure:"epochs"`

	// Patience is the number of epochs without a val-accuracy improvement
	// after which a fold stops early.
	Patience int `yaml:"patience" mapstructure:"patience"`

	// PlateauPatience is the number of non-improving val-loss epochs before
	// the learning rate is reduced.
	PlateauPatience int `yaml:"plateauPatience" mapstructure:"plateauPatience"`

	// PlateauFactor multiplies the learning rate on a plateau.
	PlateauFactor float64 `yaml:"plateauFactor" mapstructure:"plateauFactor"`

	// PlateauThreshold is the relative val-loss improvement threshold.
	PlateauThreshold float64 `yaml:"plateauThreshold" mapstructure:"plateauThreshold"`

	// MinLR is the floor for plateau reductions.
	MinLR float64 `yaml:"minLR" mapstructure:"minLR"`
}

type OutputConfig struct {
	// Dir receives checkpoint files.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// LogDir receives local telemetry runs.
	LogDir string `yaml:"logDir" mapstructure:"logDir"`
}

type TelemetryConfig struct {
	// Mode selects the backend: tracking or local.
	Mode string `yaml:"mode" mapstructure:"mode"`

	// TrackingURI is the tracking-service base URL. Falls back to
	// MLFLOW_TRACKING_URI.
	TrackingURI string `yaml:"trackingURI" mapstructure:"trackingURI"`

	// TrackingToken is a bearer token. Falls back to MLFLOW_TRACKING_TOKEN.
	TrackingToken string `yaml:"trackingToken" mapstructure:"trackingToken"`

	// Experiment is the tracking-service experiment name.
	Experiment string `yaml:"experiment" mapstructure:"experiment"`

	// EnvFile is an optional dotenv file loaded before reading the
	// environment fallbacks.
	EnvFile string `yaml:"envFile" mapstructure:"envFile"`
}

// New default configuration.
func New() *Config {
	return &Config{
		Model:    DefaultModel,
		Device:   DeviceAuto,
		LogLevel: DefaultLogLevel,
		Data: DataConfig{
			Dir:       DefaultDataDir,
			ImageSize: DefaultImageSize,
			Folds:     DefaultFolds,
			Seed:      DefaultSeed,
		},
		Training: TrainingConfig{
			BatchSize:        DefaultBatchSize,
			LearningRate:     DefaultLearningRate,
			Epochs:           DefaultEpochs,
			Patience:         DefaultPatience,
			PlateauPatience:  DefaultPlateauPatience,
			PlateauFactor:    DefaultPlateauFactor,
			PlateauThreshold: DefaultPlateauThreshold,
		},
		Output: OutputConfig{
			Dir:    DefaultOutputDir,
			LogDir: DefaultLogDir,
		},
		Telemetry: TelemetryConfig{
			Mode:       TelemetryTracking,
			Experiment: DefaultExperiment,
			EnvFile:    DefaultEnvFile,
		},
	}
}

// Convert normalises names and fills tracking settings from the
// environment, after loading EnvFile when it exists. Variables already set
// in the environment are not overridden by the file. Call it before
// Validate.
func (cfg *Config) Convert() error {
	if cfg.Telemetry.EnvFile != "" {
		if err := godotenv.Load(cfg.Telemetry.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "load env file %s", cfg.Telemetry.EnvFile)
		}
	}

	cfg.Model = strings.ToLower(strings.TrimSpace(cfg.Model))
	cfg.Device = strings.ToLower(strings.TrimSpace(cfg.Device))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Telemetry.Mode = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Mode))

	if cfg.Telemetry.TrackingURI == "" {
		cfg.Telemetry.TrackingURI = os.Getenv("MLFLOW_TRACKING_URI")
	}
	if cfg.Telemetry.TrackingToken == "" {
		cfg.Telemetry.TrackingToken = os.Getenv("MLFLOW_TRACKING_TOKEN")
	}

	return nil
}

// Validate config parameters.
func (cfg *Config) Validate() error {
	if !cfg.All {
		if err := engine.ValidateArchitecture(cfg.Model); err != nil {
			return err
		}
	}

	if !slices.Contains(Devices, cfg.Device) {
		return errors.NewValidationError("device", "must be one of auto, cuda, mps, cpu", cfg.Device)
	}

	if !slices.Contains(LogLevels, cfg.LogLevel) {
		return errors.NewValidationError("logLevel", "must be one of debug, info, warn, error", cfg.LogLevel)
	}

	if cfg.Data.Dir == "" {
		return errors.NewValidationError("data.dir", "must not be empty", cfg.Data.Dir)
	}

	if cfg.Data.ImageSize <= 0 {
		return errors.NewValidationError("data.imageSize", "must be positive", cfg.Data.ImageSize)
	}

	if cfg.Data.Folds < 2 {
		return errors.NewValidationError("data.folds", "must be at least 2", cfg.Data.Folds)
	}

	if cfg.Training.BatchSize <= 0 {
		return errors.NewValidationError("training.batchSize", "must be positive", cfg.Training.BatchSize)
	}

	if cfg.Training.LearningRate <= 0 {
		return errors.NewValidationError("training.learningRate", "must be positive", cfg.Training.LearningRate)
	}

	if cfg.Training.Epochs <= 0 {
		return errors.NewValidationError("training.epochs", "must be positive", cfg.Training.Epochs)
	}

	if cfg.Training.Patience <= 0 {
		return errors.NewValidationError("training.patience", "must be positive", cfg.Training.Patience)
	}

	if cfg.Training.PlateauPatience < 0 {
		return errors.NewValidationError("training.plateauPatience", "must not be negative", cfg.Training.PlateauPatience)
	}

	if cfg.Training.PlateauFactor <= 0 || cfg.Training.PlateauFactor >= 1 {
		return errors.NewValidationError("training.plateauFactor", "must be in (0, 1)", cfg.Training.PlateauFactor)
	}

	if cfg.Training.PlateauThreshold < 0 {
		return errors.NewValidationError("training.plateauThreshold", "must not be negative", cfg.Training.PlateauThreshold)
	}

	if cfg.Training.MinLR < 0 {
		return errors.NewValidationError("training.minLR", "must not be negative", cfg.Training.MinLR)
	}

	if cfg.Output.Dir == "" {
		return errors.NewValidationError("output.dir", "must not be empty", cfg.Output.Dir)
	}

	if !slices.Contains(TelemetryModes, cfg.Telemetry.Mode) {
		return errors.NewValidationError("telemetry.mode", "must be tracking or local", cfg.Telemetry.Mode)
	}

	if cfg.Telemetry.Mode == TelemetryLocal && cfg.Output.LogDir == "" {
		return errors.NewValidationError("output.logDir", "required by local telemetry", cfg.Output.LogDir)
	}

	if cfg.Telemetry.Mode == TelemetryTracking {
		if cfg.Telemetry.TrackingURI == "" {
			return errors.NewValidationError("telemetry.trackingURI", "required by tracking telemetry; set --tracking-uri, MLFLOW_TRACKING_URI or use --no-tracking", cfg.Telemetry.TrackingURI)
		}
		if cfg.Telemetry.Experiment == "" {
			return errors.NewValidationError("telemetry.experiment", "must not be empty", cfg.Telemetry.Experiment)
		}
	}

	return nil
}

// Redacted returns a copy safe to persist, with the tracking token masked.
func (cfg *Config) Redacted() *Config {
	c := *cfg
	if c.Telemetry.TrackingToken != "" {
		c.Telemetry.TrackingToken = "***"
	}
	return &c
}

// Architectures returns the architectures this configuration trains.
func (cfg *Config) Architectures() []string {
	if cfg.All {
		return slices.Clone(engine.Architectures)
	}
	return []string{cfg.Model}
}

// Params flattens the hyperparameters for run-parameter logging.
func (cfg *Config) Params() map[string]string {
	return map[string]string{
		"model":             cfg.Model,
		"batch_size":        strconv.Itoa(cfg.Training.BatchSize),
		"learning_rate":     strconv.FormatFloat(cfg.Training.LearningRate, 'g', -1, 64),
		"epochs":            strconv.Itoa(cfg.Training.Epochs),
		"patience":          strconv.Itoa(cfg.Training.Patience),
		"plateau_patience":  strconv.Itoa(cfg.Training.PlateauPatience),
		"plateau_factor":    strconv.FormatFloat(cfg.Training.PlateauFactor, 'g', -1, 64),
		"plateau_threshold": strconv.FormatFloat(cfg.Training.PlateauThreshold, 'g', -1, 64),
		"device":            cfg.Device,
		"folds":             strconv.Itoa(cfg.Data.Folds),
		"seed":              strconv.FormatUint(cfg.Data.Seed, 10),
		"image_size":        strconv.Itoa(cfg.Data.ImageSize),
		"telemetry":         cfg.Telemetry.Mode,
	}
}
