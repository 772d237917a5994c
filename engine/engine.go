// Package engine defines the narrow numeric contracts the training loop
// drives: a Model producing logits, an Optimizer updating its parameters and
// a Backend that builds both for a named architecture.
//
// The orchestration code in package training only depends on these
// interfaces, so a backend can live behind cgo, a GPU runtime or plain Go.
package engine

import (
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Architectures is the fixed list of supported backbones, in the order a
// multi-model run trains them.
var Architectures = []string{
	"efficientnet",
	"resnet50",
	"mobilenetv3",
	"densenet121",
	"vit",
	"convnext",
	"regnet",
}

// ValidateArchitecture returns an UnsupportedArchitectureError for names not
// in Architectures.
func ValidateArchitecture(name string) error {
	if !slices.Contains(Architectures, name) {
		return errors.NewUnsupportedArchitectureError(name, slices.Clone(Architectures))
	}
	return nil
}

// Parameter is a flat trainable tensor and its accumulated gradient.
type Parameter struct {
	Name  string
	Value []float64
	Grad  []float64
}

// NewParameter allocates a zero-valued parameter of the given size.
func NewParameter(name string, size int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// Output is the result of a forward pass.
type Output interface {
	// Logits returns the (batch x classes) raw scores.
	Logits() *mat.Dense

	// Backward propagates dLoss/dLogits into the parameter gradients.
	// Outputs produced in evaluation mode return ErrNoGrad.
	Backward(grad *mat.Dense) error
}

// Model is a classifier whose forward pass maps a (batch x features) input
// to logits.
type Model interface {
	Name() string

	// Train switches the model to training mode.
	Train()

	// Eval switches the model to evaluation mode. Forward passes in this
	// mode keep no state for gradients and never change parameters.
	Eval()

	Forward(x *mat.Dense) (Output, error)

	Parameters() []*Parameter
}

// Optimizer updates model parameters from their gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
	LearningRate() float64
	SetLearningRate(lr float64)

	// Steps returns the number of Step calls so far.
	Steps() int

	// StateDict returns a copy of the optimizer's internal buffers keyed by
	// parameter name and buffer kind.
	StateDict() map[string][]float64
}

// ModelSpec describes the model a Backend should build for one fold.
type ModelSpec struct {
	Architecture string
	NumClasses   int
	InputDim     int
	Device       string
	Seed         uint64
}

// Backend is the model factory.
type Backend interface {
	NewModel(spec ModelSpec) (Model, error)
	NewOptimizer(params []*Parameter, lr float64) (Optimizer, error)
}

// ErrNoGrad is returned by Output.Backward for evaluation-mode outputs.
var ErrNoGrad = errors.New("backward called on an output computed without gradient tracking")

// ArgMax returns the column index of the largest value in each row.
func ArgMax(m mat.Matrix) []int {
	r, c := m.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if m.At(i, j) > m.At(i, best) {
				best = j
			}
		}
		out[i] = best
	}
	return out
}
