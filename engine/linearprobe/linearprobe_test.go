package linearprobe

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

func newModel(t *testing.T, classes, features int) *Model {
	t.Helper()
	m, err := New().NewModel(engine.ModelSpec{
		Architecture: "resnet50",
		NumClasses:   classes,
		InputDim:     features,
		Seed:         42,
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m.(*Model)
}

func TestNewModelValidation(t *testing.T) {
	tests := []struct {
		name string
		spec engine.ModelSpec
	}{
		{"unknown architecture", engine.ModelSpec{Architecture: "alexnet", NumClasses: 2, InputDim: 4}},
		{"single class", engine.ModelSpec{Architecture: "vit", NumClasses: 1, InputDim: 4}},
		{"no features", engine.ModelSpec{Architecture: "vit", NumClasses: 2, InputDim: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New().NewModel(tt.spec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSeededInitIsDeterministic(t *testing.T) {
	a := newModel(t, 3, 5)
	b := newModel(t, 3, 5)
	for i := range a.weight.Value {
		if a.weight.Value[i] != b.weight.Value[i] {
			t.Fatalf("weights differ at %d", i)
		}
	}
}

func TestForwardShapeAndDimensionError(t *testing.T) {
	m := newModel(t, 3, 4)
	out, err := m.Forward(mat.NewDense(200, 4, nil))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if r, c := out.Logits().Dims(); r != 200 || c != 3 {
		t.Errorf("logits dims = %dx%d", r, c)
	}

	_, err = m.Forward(mat.NewDense(2, 5, nil))
	var dimErr *errors.DimensionError
	if !errors.As(err, &dimErr) {
		t.Errorf("expected DimensionError, got %v", err)
	}
}

func TestEvalOutputHasNoGrad(t *testing.T) {
	m := newModel(t, 2, 2)
	m.Eval()
	out, err := m.Forward(mat.NewDense(1, 2, []float64{1, 2}))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if err := out.Backward(mat.NewDense(1, 2, nil)); !errors.Is(err, engine.ErrNoGrad) {
		t.Errorf("expected ErrNoGrad, got %v", err)
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	m := newModel(t, 3, 2)
	x := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		-1, 0.5,
		0.3, -0.7,
	})
	labels := []int{0, 1, 2, 1}

	lossAt := func() float64 {
		out, err := m.Forward(x)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		loss, err := engine.CrossEntropy{}.Forward(out, labels)
		if err != nil {
			t.Fatalf("loss: %v", err)
		}
		return loss.Value()
	}

	out, _ := m.Forward(x)
	loss, _ := engine.CrossEntropy{}.Forward(out, labels)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	const h = 1e-6
	for _, p := range m.Parameters() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			up := lossAt()
			p.Value[i] = orig - h
			down := lossAt()
			p.Value[i] = orig

			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-p.Grad[i]) > 1e-5 {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, i, p.Grad[i], numeric)
			}
		}
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	b := New()
	model, err := b.NewModel(engine.ModelSpec{Architecture: "vit", NumClasses: 2, InputDim: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	opt, err := b.NewOptimizer(model.Parameters(), 0.05)
	if err != nil {
		t.Fatalf("NewOptimizer: %v", err)
	}

	x := mat.NewDense(4, 2, []float64{2, 0, 1.5, 0.2, 0, 2, 0.1, 1.7})
	labels := []int{0, 0, 1, 1}

	var first, last float64
	for step := 0; step < 100; step++ {
		opt.ZeroGrad()
		out, err := model.Forward(x)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		loss, err := engine.CrossEntropy{}.Forward(out, labels)
		if err != nil {
			t.Fatalf("loss: %v", err)
		}
		if step == 0 {
			first = loss.Value()
		}
		last = loss.Value()
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward: %v", err)
		}
		if err := opt.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
}
