package engine

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Loss is a scalar loss bound to the output it was computed from.
type Loss interface {
	Value() float64
	Backward() error
}

// Criterion computes a Loss from a forward output and integer labels.
type Criterion interface {
	Forward(out Output, labels []int) (Loss, error)
}

// CrossEntropy is the mean softmax cross-entropy over the batch.
type CrossEntropy struct{}

// Forward implements Criterion.
func (CrossEntropy) Forward(out Output, labels []int) (Loss, error) {
	logits := out.Logits()
	r, c := logits.Dims()
	if r != len(labels) {
		return nil, errors.NewDimensionError("CrossEntropy", r, len(labels), 0)
	}
	if r == 0 {
		return nil, errors.ErrEmptyData
	}

	probs := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	total := 0.0
	for i := 0; i < r; i++ {
		if labels[i] < 0 || labels[i] >= c {
			return nil, errors.NewValueError("CrossEntropy", "label out of range")
		}
		mat.Row(row, i, logits)
		lse := floats.LogSumExp(row)
		total += lse - row[labels[i]]
		for j := range row {
			probs.Set(i, j, math.Exp(row[j]-lse))
		}
	}

	return &crossEntropyLoss{
		value:  total / float64(r),
		probs:  probs,
		labels: labels,
		out:    out,
	}, nil
}

type crossEntropyLoss struct {
	value  float64
	probs  *mat.Dense
	labels []int
	out    Output
}

func (l *crossEntropyLoss) Value() float64 { return l.value }

// Backward sends (softmax - onehot) / batch to the output.
func (l *crossEntropyLoss) Backward() error {
	r, _ := l.probs.Dims()
	grad := mat.DenseCopyOf(l.probs)
	for i, y := range l.labels {
		grad.Set(i, y, grad.At(i, y)-1)
	}
	grad.Scale(1/float64(r), grad)
	return l.out.Backward(grad)
}
