package engine

import (
	"math"
	"sync"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Adam implements the Adam optimizer over flat parameters.
type Adam struct {
	parameters  []*Parameter
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m           [][]float64 // First moment estimates
	v           [][]float64 // Second moment estimates
	mutex       sync.RWMutex
}

// NewAdam creates a new Adam optimizer.
func NewAdam(parameters []*Parameter, lr, beta1, beta2, eps, weightDecay float64) (*Adam, error) {
	if lr <= 0 {
		return nil, errors.NewValidationError("lr", "must be positive", lr)
	}
	adam := &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make([][]float64, len(parameters)),
		v:           make([][]float64, len(parameters)),
	}
	for i, p := range parameters {
		if len(p.Grad) != len(p.Value) {
			return nil, errors.NewDimensionError("NewAdam", len(p.Value), len(p.Grad), 1)
		}
		adam.m[i] = make([]float64, len(p.Value))
		adam.v[i] = make([]float64, len(p.Value))
	}
	return adam, nil
}

// NewDefaultAdam uses beta1=0.9, beta2=0.999, eps=1e-8 and no weight decay.
func NewDefaultAdam(parameters []*Parameter, lr float64) (*Adam, error) {
	return NewAdam(parameters, lr, 0.9, 0.999, 1e-8, 0)
}

// Step performs a single optimization step.
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		m, v := adam.m[i], adam.v[i]
		for j, g := range param.Grad {
			if adam.weightDecay > 0 {
				g += adam.weightDecay * param.Value[j]
			}
			m[j] = adam.beta1*m[j] + (1-adam.beta1)*g
			v[j] = adam.beta2*v[j] + (1-adam.beta2)*g*g

			mHat := m[j] / bias1
			vHat := v[j] / bias2
			param.Value[j] -= adam.lr * mHat / (math.Sqrt(vHat) + adam.eps)
		}
		for _, x := range param.Value {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return errors.NewModelError("Adam.Step", "non-finite parameter", errors.Newf("parameter %s", param.Name))
			}
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (adam *Adam) ZeroGrad() {
	for _, p := range adam.parameters {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

// LearningRate returns the current learning rate.
func (adam *Adam) LearningRate() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLearningRate sets the learning rate.
func (adam *Adam) SetLearningRate(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

// Steps returns the number of updates applied.
func (adam *Adam) Steps() int {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.step
}

// StateDict returns copies of the moment estimates keyed
// "<param>.exp_avg" and "<param>.exp_avg_sq".
func (adam *Adam) StateDict() map[string][]float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	state := make(map[string][]float64, 2*len(adam.parameters))
	for i, p := range adam.parameters {
		state[p.Name+".exp_avg"] = append([]float64(nil), adam.m[i]...)
		state[p.Name+".exp_avg_sq"] = append([]float64(nil), adam.v[i]...)
	}
	return state
}
