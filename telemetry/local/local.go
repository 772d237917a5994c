// Package local is the filesystem telemetry backend. Each session writes a
// directory <logDir>/<run name>/ holding the run configuration, a JSON-lines
// metric stream, the epoch history as CSV, a progress file, the summary and
// per-fold history plots.
package local

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
	"github.com/YuminosukeSato/beanscope/telemetry"
)

// File names inside a run directory.
const (
	ConfigFileName   = "config.yaml"
	MetricsFileName  = "metrics.jsonl"
	HistoryFileName  = "history.csv"
	ProgressFileName = "progress.json"
	SummaryFileName  = "summary.json"
)

// Progress is the content of progress.json, rewritten after every epoch.
type Progress struct {
	Run          string             `json:"run"`
	CurrentFold  int                `json:"current_fold"`
	CurrentEpoch int                `json:"current_epoch"`
	TotalEpochs  *int               `json:"total_epochs,omitempty"`
	Message      string             `json:"message,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Timestamp    int64              `json:"timestamp"`
	StartTime    int64              `json:"start_time"`
}

type summaryFile struct {
	Run     string             `json:"run"`
	Status  telemetry.Status   `json:"status,omitempty"`
	Metrics map[string]float64 `json:"metrics"`
	Tags    map[string]string  `json:"tags,omitempty"`
}

// Sink writes telemetry under a log directory. A Sink serves one session.
type Sink struct {
	mu sync.Mutex

	root   string
	logger log.Logger

	run     telemetry.RunInfo
	dir     string
	file    *os.File
	events  zerolog.Logger
	history []*telemetry.EpochRecord
	summary *summaryFile
	opened  bool
}

var _ telemetry.Sink = (*Sink)(nil)

// New returns a sink rooted at logDir.
func New(logDir string, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.GetLoggerWithName("telemetry.local")
	}
	return &Sink{root: logDir, logger: logger}
}

// Factory returns a telemetry.Factory creating local sinks under logDir.
func Factory(logDir string, logger log.Logger) telemetry.Factory {
	return func() (telemetry.Sink, error) {
		return New(logDir, logger), nil
	}
}

// Dir is the run directory, empty before Open.
func (s *Sink) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

func (s *Sink) Open(_ context.Context, run telemetry.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Name == "" {
		return errors.NewValidationError("run.name", "must not be empty", run.Name)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	dir := filepath.Join(s.root, run.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create run directory %s", dir)
	}

	cfg := run.Config
	if cfg == nil {
		cfg = run.Params
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal run config")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), out, 0o644); err != nil {
		return errors.Wrap(err, "write run config")
	}

	f, err := os.OpenFile(filepath.Join(dir, MetricsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open metrics stream")
	}

	s.run = run
	s.dir = dir
	s.file = f
	s.events = zerolog.New(f).With().Timestamp().Str("run", run.Name).Logger()
	s.history = nil
	s.summary = nil
	s.opened = true

	event := s.events.Info().Str("event", "run_started")
	if run.Architecture != "" {
		event = event.Str("model", run.Architecture)
	}
	for k, v := range run.Params {
		event = event.Str("param."+k, v)
	}
	event.Send()

	s.logger.Info("Local telemetry session opened", log.RunNameKey, run.Name, log.PathKey, dir)
	return nil
}

func (s *Sink) LogEpoch(_ context.Context, record telemetry.EpochRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}

	event := s.events.Info().Str("event", "epoch").
		Int("fold", record.Fold).
		Int("epoch", record.Epoch)
	for name, v := range record.Metrics() {
		event = event.Float64(name, v)
	}
	event.Send()

	r := record
	s.history = append(s.history, &r)
	if err := s.writeHistory(); err != nil {
		return err
	}
	return s.writeProgress(record)
}

func (s *Sink) writeHistory() error {
	f, err := os.Create(filepath.Join(s.dir, HistoryFileName))
	if err != nil {
		return errors.Wrap(err, "create history csv")
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&s.history, f); err != nil {
		return errors.Wrap(err, "write history csv")
	}
	return nil
}

func (s *Sink) writeProgress(record telemetry.EpochRecord) error {
	p := Progress{
		Run:          s.run.Name,
		CurrentFold:  record.Fold,
		CurrentEpoch: record.Epoch,
		Message:      "fold " + strconv.Itoa(record.Fold) + " epoch " + strconv.Itoa(record.Epoch),
		Metrics:      s.finite(record.Metrics()),
		Timestamp:    time.Now().Unix(),
		StartTime:    s.run.StartedAt.Unix(),
	}
	if v, ok := s.run.Params["epochs"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.TotalEpochs = &n
		}
	}
	return writeJSON(filepath.Join(s.dir, ProgressFileName), p)
}

// LogArtifact records the path only; checkpoints already live on disk.
func (s *Sink) LogArtifact(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}
	s.events.Info().Str("event", "artifact").Str("path", path).Send()
	s.logger.Debug("Artifact kept locally", log.PathKey, path)
	return nil
}

func (s *Sink) LogSummary(_ context.Context, summary telemetry.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}

	event := s.events.Info().Str("event", "summary")
	for k, v := range summary.Metrics {
		event = event.Float64(k, v)
	}
	for k, v := range summary.Tags {
		event = event.Str(k, v)
	}
	event.Send()

	if s.summary == nil {
		s.summary = &summaryFile{Run: s.run.Name, Metrics: map[string]float64{}}
	}
	for k, v := range s.finite(summary.Metrics) {
		s.summary.Metrics[k] = v
	}
	if len(summary.Tags) > 0 && s.summary.Tags == nil {
		s.summary.Tags = map[string]string{}
	}
	for k, v := range summary.Tags {
		s.summary.Tags[k] = v
	}
	return writeJSON(filepath.Join(s.dir, SummaryFileName), s.summary)
}

// Close draws the per-fold history plots, records the status and closes the
// metric stream.
func (s *Sink) Close(_ context.Context, status telemetry.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}
	s.opened = false

	var errs error
	for fold, records := range groupByFold(s.history) {
		path := filepath.Join(s.dir, PlotFileName(fold))
		if err := SaveHistoryPlot(path, fold, records); err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		s.logger.Debug("Saved training history plot", log.FoldKey, fold, log.PathKey, path)
	}

	if s.summary != nil {
		s.summary.Status = status
		errs = errors.CombineErrors(errs, writeJSON(filepath.Join(s.dir, SummaryFileName), s.summary))
	}

	s.events.Info().Str("event", "run_finished").Str("status", string(status)).Send()
	if err := s.file.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "close metrics stream"))
	}

	s.logger.Info("Local telemetry session closed", log.RunNameKey, s.run.Name, "status", string(status))
	return errs
}

func groupByFold(history []*telemetry.EpochRecord) map[int][]telemetry.EpochRecord {
	out := make(map[int][]telemetry.EpochRecord)
	for _, r := range history {
		out[r.Fold] = append(out[r.Fold], *r)
	}
	return out
}

// finite returns a copy of metrics that encoding/json can marshal.
// Infinities are clamped to the largest finite float and NaN is dropped,
// the same policy the tracking backend applies.
func (s *Sink) finite(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		switch {
		case math.IsNaN(v):
			s.logger.Warn("Dropping NaN metric", "metric", k)
			continue
		case math.IsInf(v, 1):
			v = math.MaxFloat64
		case math.IsInf(v, -1):
			v = -math.MaxFloat64
		}
		out[k] = v
	}
	return out
}

func writeJSON(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Base(path))
	}
	return nil
}
