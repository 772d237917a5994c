// Package linearprobe is the in-tree engine.Backend: a softmax classifier
// over flattened pixel features. Every supported architecture name resolves
// to the same head, so the training loop can run end to end without an
// external ML runtime.
package linearprobe

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/beanscope/core/parallel"
	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// rowsPerWorker is the batch size below which forward and backward run on
// the calling goroutine.
const rowsPerWorker = 64

// Backend builds linear-probe models and Adam optimizers.
type Backend struct {
	// InitScale is the standard deviation of the initial weights.
	InitScale float64
}

// New returns a Backend with the default init scale.
func New() *Backend {
	return &Backend{InitScale: 0.01}
}

// NewModel implements engine.Backend.
func (b *Backend) NewModel(spec engine.ModelSpec) (engine.Model, error) {
	if err := engine.ValidateArchitecture(spec.Architecture); err != nil {
		return nil, err
	}
	if spec.NumClasses < 2 {
		return nil, errors.NewValidationError("num_classes", "must be at least 2", spec.NumClasses)
	}
	if spec.InputDim <= 0 {
		return nil, errors.NewValidationError("input_dim", "must be positive", spec.InputDim)
	}

	m := &Model{
		name:     spec.Architecture,
		classes:  spec.NumClasses,
		features: spec.InputDim,
		weight:   engine.NewParameter("head.weight", spec.NumClasses*spec.InputDim),
		bias:     engine.NewParameter("head.bias", spec.NumClasses),
		training: true,
	}
	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))
	for i := range m.weight.Value {
		m.weight.Value[i] = rng.NormFloat64() * b.InitScale
	}
	return m, nil
}

// NewOptimizer implements engine.Backend.
func (b *Backend) NewOptimizer(params []*engine.Parameter, lr float64) (engine.Optimizer, error) {
	return engine.NewDefaultAdam(params, lr)
}

// Model is a single dense layer: logits = x Wᵀ + b.
type Model struct {
	name     string
	classes  int
	features int
	weight   *engine.Parameter // classes x features, row-major
	bias     *engine.Parameter
	training bool
}

func (m *Model) Name() string { return m.name }
func (m *Model) Train()       { m.training = true }
func (m *Model) Eval()        { m.training = false }

func (m *Model) Parameters() []*engine.Parameter {
	return []*engine.Parameter{m.weight, m.bias}
}

// Forward computes logits for a (batch x features) input.
func (m *Model) Forward(x *mat.Dense) (engine.Output, error) {
	rows, cols := x.Dims()
	if cols != m.features {
		return nil, errors.NewDimensionError("linearprobe.Forward", m.features, cols, 1)
	}

	w := mat.NewDense(m.classes, m.features, m.weight.Value)
	logits := mat.NewDense(rows, m.classes, nil)
	err := parallel.ParallelizeWithThreshold(rows, rowsPerWorker, func(start, end int) {
		if start >= end {
			return
		}
		dst := logits.Slice(start, end, 0, m.classes).(*mat.Dense)
		dst.Mul(x.Slice(start, end, 0, cols), w.T())
		for i := 0; i < end-start; i++ {
			for k := 0; k < m.classes; k++ {
				dst.Set(i, k, dst.At(i, k)+m.bias.Value[k])
			}
		}
	})
	if err != nil {
		return nil, errors.NewModelError("linearprobe.Forward", "worker failed", err)
	}

	out := &output{logits: logits}
	if m.training {
		out.model = m
		out.input = x
	}
	return out, nil
}

type output struct {
	logits *mat.Dense
	model  *Model
	input  *mat.Dense
}

func (o *output) Logits() *mat.Dense { return o.logits }

// Backward accumulates dW = gradᵀ x and db = column sums of grad.
func (o *output) Backward(grad *mat.Dense) error {
	if o.model == nil {
		return engine.ErrNoGrad
	}
	m := o.model
	gr, gc := grad.Dims()
	lr, lc := o.logits.Dims()
	if gr != lr || gc != lc {
		return errors.NewDimensionError("linearprobe.Backward", lc, gc, 1)
	}

	dW := mat.NewDense(m.classes, m.features, nil)
	dW.Mul(grad.T(), o.input)

	err := parallel.ParallelizeWithThreshold(m.classes, rowsPerWorker, func(start, end int) {
		for k := start; k < end; k++ {
			row := m.weight.Grad[k*m.features : (k+1)*m.features]
			for j := range row {
				row[j] += dW.At(k, j)
			}
			sum := 0.0
			for i := 0; i < gr; i++ {
				sum += grad.At(i, k)
			}
			m.bias.Grad[k] += sum
		}
	})
	if err != nil {
		return errors.NewModelError("linearprobe.Backward", "worker failed", err)
	}
	return nil
}
