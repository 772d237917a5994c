// Package tracking is the remote telemetry backend. It logs sessions as
// runs of an MLflow-compatible tracking server: epoch metrics under
// fold-scoped keys with the epoch as step, run parameters, summary metrics
// and tags, and checkpoint files as artifacts.
package tracking

import (
	"context"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
	"github.com/YuminosukeSato/beanscope/telemetry"
)

// Run tags set on every session.
const (
	TagSessionID    = "beanscope.session_id"
	TagArchitecture = "beanscope.architecture"
	TagRunName      = "mlflow.runName"
)

// Options configures a tracking sink.
type Options struct {
	URI        string
	Token      string
	Experiment string
	HTTPClient *http.Client
	Logger     log.Logger
}

// Sink logs one session as one tracking run.
type Sink struct {
	mu sync.Mutex

	client     *Client
	experiment string
	logger     log.Logger

	experimentID string
	runID        string
	opened       bool
}

var _ telemetry.Sink = (*Sink)(nil)

// New returns a sink for the configured server.
func New(opts Options) *Sink {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("telemetry.tracking")
	}
	return &Sink{
		client:     NewClient(opts.URI, opts.Token, opts.HTTPClient),
		experiment: opts.Experiment,
		logger:     logger,
	}
}

// Factory returns a telemetry.Factory creating tracking sinks.
func Factory(opts Options) telemetry.Factory {
	return func() (telemetry.Sink, error) {
		if opts.URI == "" {
			return nil, errors.NewValidationError("telemetry.trackingURI", "must not be empty", opts.URI)
		}
		return New(opts), nil
	}
}

// RunID is the server-side run id, empty before Open.
func (s *Sink) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func (s *Sink) Open(ctx context.Context, run telemetry.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expID, err := s.client.EnsureExperiment(ctx, s.experiment)
	if err != nil {
		return errors.Wrapf(err, "resolve experiment %q", s.experiment)
	}

	start := run.StartedAt
	if start.IsZero() {
		start = time.Now()
	}
	tags := []Tag{
		{Key: TagRunName, Value: run.Name},
		{Key: TagSessionID, Value: uuid.NewString()},
	}
	if run.Architecture != "" {
		tags = append(tags, Tag{Key: TagArchitecture, Value: run.Architecture})
	}

	info, err := s.client.CreateRun(ctx, expID, run.Name, start, tags)
	if err != nil {
		return errors.Wrapf(err, "create run %q", run.Name)
	}

	if len(run.Params) > 0 {
		if err := s.client.LogBatch(ctx, info.RunID, nil, sortedParams(run.Params), nil); err != nil {
			return errors.Wrap(err, "log run params")
		}
	}

	s.experimentID = expID
	s.runID = info.RunID
	s.opened = true
	s.logger.Info("Tracking run created",
		log.RunNameKey, run.Name,
		"tracking.experiment_id", expID,
		"tracking.run_id", info.RunID,
	)
	return nil
}

func (s *Sink) LogEpoch(ctx context.Context, record telemetry.EpochRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}

	now := time.Now().UnixMilli()
	values := record.Metrics()
	metrics := make([]Metric, 0, len(values))
	for _, name := range sortedKeys(values) {
		m, ok := s.metric(telemetry.FoldMetricKey(record.Fold, name), values[name], now, int64(record.Epoch))
		if ok {
			metrics = append(metrics, m)
		}
	}
	return s.client.LogBatch(ctx, s.runID, metrics, nil, nil)
}

func (s *Sink) LogArtifact(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}
	if err := s.client.UploadArtifact(ctx, s.experimentID, s.runID, path); err != nil {
		return err
	}
	s.logger.Debug("Uploaded artifact", log.PathKey, path)
	return nil
}

func (s *Sink) LogSummary(ctx context.Context, summary telemetry.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}

	now := time.Now().UnixMilli()
	metrics := make([]Metric, 0, len(summary.Metrics))
	for _, k := range sortedKeys(summary.Metrics) {
		if m, ok := s.metric(k, summary.Metrics[k], now, 0); ok {
			metrics = append(metrics, m)
		}
	}
	tags := make([]Tag, 0, len(summary.Tags))
	for _, k := range sortedKeys(summary.Tags) {
		tags = append(tags, Tag{Key: k, Value: summary.Tags[k]})
	}
	return s.client.LogBatch(ctx, s.runID, metrics, nil, tags)
}

func (s *Sink) Close(ctx context.Context, status telemetry.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrSinkNotOpen
	}
	s.opened = false
	if err := s.client.UpdateRun(ctx, s.runID, string(status), time.Now()); err != nil {
		return errors.Wrapf(err, "finish run %s", s.runID)
	}
	s.logger.Info("Tracking run finished", "tracking.run_id", s.runID, "status", string(status))
	return nil
}

// metric converts a value to a wire metric. JSON has no infinities, so they
// are clamped to the largest finite float; NaN is dropped.
func (s *Sink) metric(key string, v float64, ts, step int64) (Metric, bool) {
	switch {
	case math.IsNaN(v):
		s.logger.Warn("Dropping NaN metric", "metric", key)
		return Metric{}, false
	case math.IsInf(v, 1):
		v = math.MaxFloat64
	case math.IsInf(v, -1):
		v = -math.MaxFloat64
	}
	return Metric{Key: key, Value: v, Timestamp: ts, Step: step}, true
}

func sortedParams(params map[string]string) []Param {
	out := make([]Param, 0, len(params))
	for _, k := range sortedKeys(params) {
		out = append(out, Param{Key: k, Value: params[k]})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
