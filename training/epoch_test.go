package training

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/beanscope/dataset"
	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/engine/linearprobe"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
)

// separableSource builds two Gaussian blobs that a linear head can split.
func separableSource(t *testing.T, n int) *dataset.InMemory {
	t.Helper()
	r := rand.New(rand.NewPCG(1, 2))
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := range features {
		y := i % 2
		center := -2.0
		if y == 1 {
			center = 2.0
		}
		features[i] = []float64{center + r.NormFloat64()*0.3, -center + r.NormFloat64()*0.3}
		labels[i] = y
	}
	src, err := dataset.NewInMemory(features, labels, []string{"good", "defect"})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	return src
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func newProbe(t *testing.T, lr float64) (engine.Model, engine.Optimizer) {
	t.Helper()
	b := linearprobe.New()
	m, err := b.NewModel(engine.ModelSpec{Architecture: "efficientnet", NumClasses: 2, InputDim: 2, Seed: 3})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	opt, err := b.NewOptimizer(m.Parameters(), lr)
	if err != nil {
		t.Fatalf("NewOptimizer: %v", err)
	}
	return m, opt
}

func TestTrainEpochLearns(t *testing.T) {
	src := separableSource(t, 64)
	loader, err := dataset.NewLoader(src, allIndices(64), 8, true, 42)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	model, opt := newProbe(t, 0.05)
	logger, _ := log.NewTestLogger(log.LevelDebug)

	var first, last TrainResult
	for epoch := 1; epoch <= 5; epoch++ {
		res, err := TrainEpoch(model, loader, engine.CrossEntropy{}, opt, EpochOptions{Epoch: epoch, Logger: logger})
		if err != nil {
			t.Fatalf("TrainEpoch: %v", err)
		}
		if res.Accuracy < 0 || res.Accuracy > 100 {
			t.Fatalf("accuracy %v outside [0,100]", res.Accuracy)
		}
		if epoch == 1 {
			first = res
		}
		last = res
	}

	if last.Loss >= first.Loss {
		t.Errorf("loss did not decrease: %v -> %v", first.Loss, last.Loss)
	}
	if last.Accuracy < 90 {
		t.Errorf("expected a separable set to be learned, accuracy %v", last.Accuracy)
	}
	if opt.Steps() != 5*loader.NumBatches() {
		t.Errorf("optimizer stepped %d times, want %d", opt.Steps(), 5*loader.NumBatches())
	}
}

func TestTrainEpochLogsEveryTenBatches(t *testing.T) {
	src := separableSource(t, 40)
	loader, _ := dataset.NewLoader(src, allIndices(40), 2, false, 0)
	model, opt := newProbe(t, 0.01)
	logger, _ := log.NewTestLogger(log.LevelDebug)

	if _, err := TrainEpoch(model, loader, engine.CrossEntropy{}, opt, EpochOptions{Epoch: 1, Logger: logger}); err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatal(err)
	}
	progress := 0
	for _, e := range entries {
		if e["message"] == "Training progress" {
			progress++
		}
	}
	if progress != 2 {
		t.Errorf("expected 2 progress lines for 20 batches, got %d", progress)
	}
}

func TestTrainEpochProgressBar(t *testing.T) {
	src := separableSource(t, 16)
	loader, _ := dataset.NewLoader(src, allIndices(16), 4, false, 0)
	model, opt := newProbe(t, 0.01)
	logger, _ := log.NewTestLogger(log.LevelInfo)

	var buf bytes.Buffer
	if _, err := TrainEpoch(model, loader, engine.CrossEntropy{}, opt, EpochOptions{Epoch: 1, Logger: logger, Progress: &buf}); err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected progress bar output")
	}
}

func TestValidateLeavesStateUntouched(t *testing.T) {
	src := separableSource(t, 20)
	loader, _ := dataset.NewLoader(src, allIndices(20), 6, false, 0)
	model, opt := newProbe(t, 0.01)

	before := append([]float64(nil), model.Parameters()[0].Value...)
	res, err := Validate(model, loader, engine.CrossEntropy{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i, v := range model.Parameters()[0].Value {
		if v != before[i] {
			t.Fatal("Validate changed parameters")
		}
	}
	if opt.Steps() != 0 {
		t.Error("Validate stepped the optimizer")
	}
	if res.Accuracy < 0 || res.Accuracy > 100 || res.F1 < 0 || res.F1 > 1 {
		t.Errorf("metrics out of range: %+v", res)
	}
	if res.Loss <= 0 {
		t.Errorf("expected positive loss, got %v", res.Loss)
	}
}

type panickingModel struct {
	engine.Model
}

func (panickingModel) Train() {}

func (panickingModel) Forward(*mat.Dense) (engine.Output, error) {
	panic("kernel fault")
}

func TestTrainEpochRecoversBackendPanic(t *testing.T) {
	src := separableSource(t, 4)
	loader, _ := dataset.NewLoader(src, allIndices(4), 2, false, 0)
	_, opt := newProbe(t, 0.01)
	logger, _ := log.NewTestLogger(log.LevelInfo)

	_, err := TrainEpoch(panickingModel{}, loader, engine.CrossEntropy{}, opt, EpochOptions{Epoch: 1, Logger: logger})
	var panicErr *errors.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if panicErr.PanicValue != "kernel fault" {
		t.Errorf("panic value = %v", panicErr.PanicValue)
	}
}
