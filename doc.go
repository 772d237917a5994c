// Package beanscope trains and evaluates image classifiers that detect
// coffee-bean defects.
//
// A run splits an image-folder dataset into k folds and, for each fold,
// trains a fresh model until the epoch budget is spent or validation
// accuracy has not improved for a number of epochs. The learning rate is
// halved whenever the validation loss plateaus. Every improvement
// overwrites a "best" checkpoint and each fold ends with a "final" one.
// Metrics stream to a tracking server or to a local run directory.
//
// # Quick Start
//
// Train one architecture with local telemetry:
//
//	beanscope --model resnet50 --data-dir ./beans --no-tracking
//
// Train every supported architecture and compare them:
//
//	MLFLOW_TRACKING_URI=http://localhost:5000 beanscope --all
//
// From Go:
//
//	cfg := config.New()
//	cfg.Telemetry.Mode = config.TelemetryLocal
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	runner := experiment.New(cfg, linearprobe.New(), local.Factory(cfg.Output.LogDir, nil))
//	report, err := runner.Run(context.Background(), "efficientnet")
//
// # Packages
//
//   - config: run configuration, defaults and validation
//   - dataset: image-folder source, k-fold splitting, batch loaders
//   - engine: model, optimizer and loss contracts; engine/linearprobe is the in-tree backend
//   - training: epoch trainer, validator, early stopping, plateau scheduler, fold runner
//   - checkpoint: best/final checkpoint files
//   - metrics: macro-averaged classification metrics
//   - experiment: cross-validation across architectures and the summary report
//   - stats: one-way ANOVA
//   - telemetry: the sink contract with local and tracking backends
//   - device: compute device selection
//   - core/parallel: parallel processing utilities
//   - pkg/log, pkg/errors: structured logging and errors
package beanscope
