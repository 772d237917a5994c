package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpochRecordMetrics(t *testing.T) {
	r := EpochRecord{
		Fold: 2, Epoch: 3,
		TrainLoss: 0.5, TrainAcc: 80,
		ValLoss: 0.6, ValAcc: 75,
		ValPrecision: 0.7, ValRecall: 0.72, ValF1: 0.71,
		LearningRate: 1e-5,
	}
	m := r.Metrics()
	assert.Len(t, m, 8)
	assert.Equal(t, 75.0, m[MetricValAcc])
	assert.Equal(t, 1e-5, m[MetricLearningRate])
}

func TestMetricKeys(t *testing.T) {
	assert.Equal(t, "fold2/val_acc", FoldMetricKey(2, MetricValAcc))
	assert.Equal(t, "vit/avg_val_acc", ModelMetricKey("vit", "avg_val_acc"))
}
