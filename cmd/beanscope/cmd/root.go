package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/beanscope/config"
	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/engine/linearprobe"
	"github.com/YuminosukeSato/beanscope/experiment"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
	"github.com/YuminosukeSato/beanscope/telemetry"
	"github.com/YuminosukeSato/beanscope/telemetry/local"
	"github.com/YuminosukeSato/beanscope/telemetry/tracking"
)

// envPrefix is the environment prefix for Viper, e.g. BEANSCOPE_TRAINING_EPOCHS.
const envPrefix = "beanscope"

const description = `beanscope trains coffee-bean defect classifiers with k-fold
cross-validation, early stopping and plateau learning-rate scheduling, and
compares architectures with a one-way ANOVA.`

// runFunc runs a validated configuration.
type runFunc func(ctx context.Context, cfg *config.Config) error

// Execute runs the root command. Any error is logged and the process exits
// with status 1.
func Execute() {
	if err := newRootCmd(viper.New(), run).Execute(); err != nil {
		log.GetLogger().Error("beanscope failed", log.ErrAttr(err))
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper, runner runFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "beanscope",
		Short:             "train and compare coffee-bean defect classifiers",
		Long:              description,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// load config file into the given viper instance.
			if err := readConfigFile(v, cmd); err != nil {
				return errors.Wrap(err, "read config file")
			}

			cfg, err := getConfigFromViper(v)
			if err != nil {
				return errors.Wrap(err, "get config from viper")
			}
			if err := cfg.Convert(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := log.SetupLogger(os.Stderr, cfg.LogLevel); err != nil {
				return errors.Wrap(err, "init logger")
			}
			errors.SetZerologWarnFunc(errors.ZerologWarnFunc(zerolog.New(os.Stderr).With().Timestamp().Logger()))

			return runner(cmd.Context(), cfg)
		},
	}

	setupFlags(rootCmd)
	if err := bindRootFlags(v, rootCmd); err != nil {
		panic(fmt.Sprintf("bind root command flags: %v", err))
	}
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// setupFlags setups flags for command line.
func setupFlags(cmd *cobra.Command) {
	flagSet := cmd.Flags()
	defaults := config.New()

	flagSet.String("config", config.DefaultConfigFile, "the path of the YAML configuration file; flags override its values")
	flagSet.String("model", defaults.Model, "architecture to train: "+strings.Join(engine.Architectures, "|"))
	flagSet.Bool("all", defaults.All, "train every supported architecture and compare them with ANOVA")
	flagSet.String("device", defaults.Device, "compute device: auto|cuda|mps|cpu")
	flagSet.Bool("no-tracking", false, "use the local log backend instead of the tracking service")
	flagSet.String("log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	flagSet.Bool("progress", defaults.Progress, "show a batch progress bar for every epoch")

	flagSet.Int("batch-size", defaults.Training.BatchSize, "mini-batch size")
	flagSet.Float64("lr", defaults.Training.LearningRate, "initial learning rate")
	flagSet.Int("epochs", defaults.Training.Epochs, "maximum epochs per fold")
	flagSet.Int("patience", defaults.Training.Patience, "early-stopping patience in epochs")
	flagSet.Int("plateau-patience", defaults.Training.PlateauPatience, "epochs without val-loss improvement before the learning rate is reduced")
	flagSet.Float64("plateau-factor", defaults.Training.PlateauFactor, "learning-rate multiplier on a plateau")

	flagSet.String("data-dir", defaults.Data.Dir, "image-folder dataset root, one sub-directory per class")
	flagSet.Int("image-size", defaults.Data.ImageSize, "side length images are resized to")
	flagSet.Int("folds", defaults.Data.Folds, "number of cross-validation folds")
	flagSet.Uint64("seed", defaults.Data.Seed, "seed for fold assignment and shuffling")

	flagSet.String("output-dir", defaults.Output.Dir, "directory receiving checkpoints")
	flagSet.String("log-dir", defaults.Output.LogDir, "directory receiving local telemetry runs")

	flagSet.String("tracking-uri", defaults.Telemetry.TrackingURI, "tracking service URL, defaults to MLFLOW_TRACKING_URI")
	flagSet.String("experiment", defaults.Telemetry.Experiment, "tracking experiment name")
	flagSet.String("env-file", defaults.Telemetry.EnvFile, "dotenv file with tracking credentials")
}

// bindRootFlags binds flags on rootCmd to the given viper instance.
func bindRootFlags(v *viper.Viper, rootCmd *cobra.Command) error {
	flags := []struct {
		key  string
		flag string
	}{
		{key: "config", flag: "config"},
		{key: "model", flag: "model"},
		{key: "all", flag: "all"},
		{key: "device", flag: "device"},
		{key: "noTracking", flag: "no-tracking"},
		{key: "logLevel", flag: "log-level"},
		{key: "progress", flag: "progress"},
		{key: "training.batchSize", flag: "batch-size"},
		{key: "training.learningRate", flag: "lr"},
		{key: "training.epochs", flag: "epochs"},
		{key: "training.patience", flag: "patience"},
		{key: "training.plateauPatience", flag: "plateau-patience"},
		{key: "training.plateauFactor", flag: "plateau-factor"},
		{key: "data.dir", flag: "data-dir"},
		{key: "data.imageSize", flag: "image-size"},
		{key: "data.folds", flag: "folds"},
		{key: "data.seed", flag: "seed"},
		{key: "output.dir", flag: "output-dir"},
		{key: "output.logDir", flag: "log-dir"},
		{key: "telemetry.trackingURI", flag: "tracking-uri"},
		{key: "telemetry.experiment", flag: "experiment"},
		{key: "telemetry.envFile", flag: "env-file"},
	}

	for _, f := range flags {
		if err := v.BindPFlag(f.key, rootCmd.Flag(f.flag)); err != nil {
			return err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

// readConfigFile reads config file into the given viper instance. If we're
// reading the default configuration file and the file does not exist, nil will
// be returned.
func readConfigFile(v *viper.Viper, cmd *cobra.Command) error {
	v.SetConfigFile(v.GetString("config"))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// when the default config file is not found, ignore the error
		if os.IsNotExist(err) && !cmd.Flag("config").Changed {
			return nil
		}
		return err
	}

	return nil
}

// getConfigFromViper returns the run config from the given viper instance.
func getConfigFromViper(v *viper.Viper) (*config.Config, error) {
	cfg := config.New()

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}

	if v.GetBool("noTracking") {
		cfg.Telemetry.Mode = config.TelemetryLocal
	}

	return cfg, nil
}

// run trains the configured architectures.
func run(ctx context.Context, cfg *config.Config) error {
	logger := log.GetLoggerWithName("beanscope")
	logger.Info("Starting beanscope",
		"version", Version,
		log.TelemetryModeKey, cfg.Telemetry.Mode,
		"models", cfg.Architectures(),
	)

	runner := experiment.New(cfg, linearprobe.New(), sinkFactory(cfg))

	if cfg.All {
		_, err := runner.RunAll(ctx)
		return err
	}

	report, err := runner.Run(ctx, cfg.Model)
	if err != nil {
		return err
	}
	printModelReport(runner.Out, report)
	return nil
}

// printModelReport writes the run-level averages of a single-model run.
func printModelReport(w io.Writer, report *experiment.ModelReport) {
	fmt.Fprintf(w, "%s - Average Validation Accuracy: %.2f%%\n", report.Architecture, report.AvgValAccuracy)
	fmt.Fprintf(w, "%s - Average Validation F1 Score: %.4f\n", report.Architecture, report.AvgValF1)
	fmt.Fprintf(w, "%s - Average Validation Recall: %.4f\n", report.Architecture, report.AvgValRecall)
	fmt.Fprintf(w, "%s - Average Validation Precision: %.4f\n", report.Architecture, report.AvgValPrecision)
}

func sinkFactory(cfg *config.Config) telemetry.Factory {
	if cfg.Telemetry.Mode == config.TelemetryLocal {
		return local.Factory(cfg.Output.LogDir, nil)
	}
	return tracking.Factory(tracking.Options{
		URI:        cfg.Telemetry.TrackingURI,
		Token:      cfg.Telemetry.TrackingToken,
		Experiment: cfg.Telemetry.Experiment,
	})
}
