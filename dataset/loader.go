package dataset

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Loader yields mini-batches over a subset of a Source.
type Loader struct {
	source    Source
	indices   []int
	batchSize int
	shuffle   bool
	seed      uint64
}

// NewLoader creates a loader over the given source indices. When shuffle is
// set, each epoch visits the indices in an order derived from seed+epoch.
func NewLoader(source Source, indices []int, batchSize int, shuffle bool, seed uint64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, errors.NewValidationError("batch_size", "must be positive", batchSize)
	}
	if len(indices) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "loader has no samples")
	}
	return &Loader{
		source:    source,
		indices:   indices,
		batchSize: batchSize,
		shuffle:   shuffle,
		seed:      seed,
	}, nil
}

// Len returns the number of samples.
func (l *Loader) Len() int { return len(l.indices) }

// NumBatches returns the number of batches per epoch; the last one may be
// short.
func (l *Loader) NumBatches() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

// Indices returns a copy of the source indices in their stored order.
func (l *Loader) Indices() []int {
	return append([]int(nil), l.indices...)
}

// Order returns the visiting order for epoch.
func (l *Loader) Order(epoch int) []int {
	order := l.Indices()
	if l.shuffle {
		s := l.seed + uint64(epoch)
		r := rand.New(rand.NewPCG(s, s))
		r.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// ForEach loads every batch of epoch in order and calls fn with its 0-based
// index. Iteration stops at the first error.
func (l *Loader) ForEach(epoch int, fn func(i int, batch Batch) error) error {
	order := l.Order(epoch)
	dim := l.source.InputDim()

	for b := 0; b*l.batchSize < len(order); b++ {
		start := b * l.batchSize
		end := min(start+l.batchSize, len(order))

		batch := Batch{
			Inputs: mat.NewDense(end-start, dim, nil),
			Labels: make([]int, end-start),
		}
		for row, idx := range order[start:end] {
			features, err := l.source.Features(idx)
			if err != nil {
				return err
			}
			if len(features) != dim {
				return errors.NewDimensionError("Loader.ForEach", dim, len(features), 1)
			}
			batch.Inputs.SetRow(row, features)
			batch.Labels[row] = l.source.Label(idx)
		}

		if err := fn(b, batch); err != nil {
			return err
		}
	}
	return nil
}

// FoldOptions controls NewFolds.
type FoldOptions struct {
	Folds     int
	Seed      uint64
	BatchSize int
}

// NewFolds splits source with a shuffled KFold and builds a shuffling
// training loader and an ordered validation loader for each fold.
func NewFolds(source Source, opts FoldOptions) ([]Fold, error) {
	if source.Len() == 0 {
		return nil, errors.ErrEmptyData
	}

	splits, err := NewKFold(opts.Folds, true, opts.Seed).Split(source.Len())
	if err != nil {
		return nil, err
	}

	folds := make([]Fold, len(splits))
	for i, s := range splits {
		train, err := NewLoader(source, s.TrainIndices, opts.BatchSize, true, opts.Seed)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d train loader", i+1)
		}
		validation, err := NewLoader(source, s.ValidationIndices, opts.BatchSize, false, opts.Seed)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d validation loader", i+1)
		}
		folds[i] = Fold{Index: i + 1, Train: train, Validation: validation}
	}
	return folds, nil
}
