// Package telemetrytest provides an in-memory telemetry.Sink for tests.
package telemetrytest

import (
	"context"
	"sync"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/telemetry"
)

// Recorder captures everything logged to it. The zero value is ready to
// use. Set Err* fields to make the matching call fail.
type Recorder struct {
	mu sync.Mutex

	Run       telemetry.RunInfo
	Epochs    []telemetry.EpochRecord
	Artifacts []string
	Summaries []telemetry.Summary
	Status    telemetry.Status

	Opened bool
	Closed bool

	ErrOpen     error
	ErrEpoch    error
	ErrArtifact error
	ErrSummary  error
}

var _ telemetry.Sink = (*Recorder)(nil)

func (r *Recorder) Open(_ context.Context, run telemetry.RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ErrOpen != nil {
		return r.ErrOpen
	}
	r.Run = run
	r.Opened = true
	return nil
}

func (r *Recorder) LogEpoch(_ context.Context, record telemetry.EpochRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(r.ErrEpoch); err != nil {
		return err
	}
	r.Epochs = append(r.Epochs, record)
	return nil
}

func (r *Recorder) LogArtifact(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(r.ErrArtifact); err != nil {
		return err
	}
	r.Artifacts = append(r.Artifacts, path)
	return nil
}

func (r *Recorder) LogSummary(_ context.Context, summary telemetry.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(r.ErrSummary); err != nil {
		return err
	}
	r.Summaries = append(r.Summaries, summary)
	return nil
}

func (r *Recorder) Close(_ context.Context, status telemetry.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Opened {
		return errors.ErrSinkNotOpen
	}
	r.Status = status
	r.Closed = true
	return nil
}

func (r *Recorder) check(injected error) error {
	if !r.Opened || r.Closed {
		return errors.ErrSinkNotOpen
	}
	return injected
}

// EpochsForFold returns the records logged for fold.
func (r *Recorder) EpochsForFold(fold int) []telemetry.EpochRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []telemetry.EpochRecord
	for _, e := range r.Epochs {
		if e.Fold == fold {
			out = append(out, e)
		}
	}
	return out
}

// Factory hands out Recorders and remembers them in creation order.
type Factory struct {
	mu        sync.Mutex
	Recorders []*Recorder
}

// New implements telemetry.Factory.
func (f *Factory) New() (telemetry.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &Recorder{}
	f.Recorders = append(f.Recorders, r)
	return r, nil
}

// ByName returns the recorder whose session has the given run name.
func (f *Factory) ByName(name string) *Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.Recorders {
		if r.Run.Name == name {
			return r
		}
	}
	return nil
}
