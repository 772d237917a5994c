package dataset

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Split holds the sample indices of one cross-validation fold.
type Split struct {
	TrainIndices      []int
	ValidationIndices []int
}

// KFold implements k-fold cross-validation splitting.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewKFold creates a new k-fold splitter. Fewer than two splits falls back
// to five.
func NewKFold(nSplits int, shuffle bool, seed uint64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{
		NSplits: nSplits,
		Shuffle: shuffle,
		Seed:    seed,
	}
}

// Split partitions [0, nSamples) into NSplits validation blocks. The first
// nSamples % NSplits folds get one extra sample. The same seed always yields
// the same membership.
func (kf *KFold) Split(nSamples int) ([]Split, error) {
	if nSamples < kf.NSplits {
		return nil, errors.NewValidationError("folds", "cannot exceed the number of samples", kf.NSplits)
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}

	if kf.Shuffle {
		r := rand.New(rand.NewPCG(kf.Seed, kf.Seed))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	splits := make([]Split, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits

	current := 0
	for i := 0; i < kf.NSplits; i++ {
		size := foldSize
		if i < remainder {
			size++
		}

		validation := make([]int, size)
		copy(validation, indices[current:current+size])

		train := make([]int, 0, nSamples-size)
		train = append(train, indices[:current]...)
		train = append(train, indices[current+size:]...)

		splits[i] = Split{
			TrainIndices:      train,
			ValidationIndices: validation,
		}
		current += size
	}

	return splits, nil
}
