// Package dataset supplies labelled samples to the training loop: an
// image-folder source, k-fold splitting and mini-batch loaders.
package dataset

import (
	"gonum.org/v1/gonum/mat"
)

// Source is an indexable labelled dataset of fixed-width feature vectors.
type Source interface {
	Len() int
	Label(index int) int
	Features(index int) ([]float64, error)
	InputDim() int
	ClassNames() []string
}

// Batch is one mini-batch: a (rows x InputDim) input matrix and the labels
// of its rows.
type Batch struct {
	Inputs *mat.Dense
	Labels []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

// Fold is one cross-validation split. Index is 1-based.
type Fold struct {
	Index      int
	Train      *Loader
	Validation *Loader
}
