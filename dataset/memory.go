package dataset

import (
	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// InMemory is a Source backed by pre-computed feature vectors.
type InMemory struct {
	features   [][]float64
	labels     []int
	classNames []string
	dim        int
}

// NewInMemory validates that all rows share one width and every label
// indexes classNames.
func NewInMemory(features [][]float64, labels []int, classNames []string) (*InMemory, error) {
	if len(features) == 0 {
		return nil, errors.ErrEmptyData
	}
	if len(labels) != len(features) {
		return nil, errors.NewDimensionError("NewInMemory", len(features), len(labels), 0)
	}
	dim := len(features[0])
	for _, row := range features {
		if len(row) != dim {
			return nil, errors.NewDimensionError("NewInMemory", dim, len(row), 1)
		}
	}
	for _, y := range labels {
		if y < 0 || y >= len(classNames) {
			return nil, errors.NewValueError("NewInMemory", "label outside class range")
		}
	}
	return &InMemory{features: features, labels: labels, classNames: classNames, dim: dim}, nil
}

func (m *InMemory) Len() int             { return len(m.features) }
func (m *InMemory) Label(index int) int  { return m.labels[index] }
func (m *InMemory) InputDim() int        { return m.dim }
func (m *InMemory) ClassNames() []string { return m.classNames }

func (m *InMemory) Features(index int) ([]float64, error) {
	if index < 0 || index >= len(m.features) {
		return nil, errors.NewValueError("InMemory.Features", "index out of range")
	}
	return m.features[index], nil
}
