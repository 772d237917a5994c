package tracking

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
	"github.com/YuminosukeSato/beanscope/telemetry"
)

const testURI = "http://mlflow.test"

type batchRequest struct {
	RunID   string   `json:"run_id"`
	Metrics []Metric `json:"metrics"`
	Params  []Param  `json:"params"`
	Tags    []Tag    `json:"tags"`
}

// server records what the fake tracking server received.
type server struct {
	mu        sync.Mutex
	created   []string
	batches   []batchRequest
	statuses  []string
	artifacts map[string]string
	auth      []string
}

func newServer(t *testing.T, experimentExists bool) (*server, *http.Client, *httpmock.MockTransport) {
	t.Helper()
	srv := &server{artifacts: map[string]string{}}
	mt := httpmock.NewMockTransport()

	if experimentExists {
		mt.RegisterResponderWithQuery(http.MethodGet, testURI+"/api/2.0/mlflow/experiments/get-by-name",
			map[string]string{"experiment_name": "CoffeeBeanDefectClassification"},
			httpmock.NewStringResponder(http.StatusOK, `{"experiment":{"experiment_id":"7","name":"CoffeeBeanDefectClassification"}}`))
	} else {
		mt.RegisterResponderWithQuery(http.MethodGet, testURI+"/api/2.0/mlflow/experiments/get-by-name",
			map[string]string{"experiment_name": "CoffeeBeanDefectClassification"},
			httpmock.NewStringResponder(http.StatusNotFound, `{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"Could not find experiment"}`))
	}

	mt.RegisterResponder(http.MethodPost, testURI+"/api/2.0/mlflow/experiments/create",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			srv.mu.Lock()
			srv.created = append(srv.created, body["name"])
			srv.mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{"experiment_id":"7"}`), nil
		})

	mt.RegisterResponder(http.MethodPost, testURI+"/api/2.0/mlflow/runs/create",
		func(req *http.Request) (*http.Response, error) {
			srv.mu.Lock()
			srv.auth = append(srv.auth, req.Header.Get("Authorization"))
			srv.mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{"run":{"info":{"run_id":"run-1","experiment_id":"7","status":"RUNNING"}}}`), nil
		})

	mt.RegisterResponder(http.MethodPost, testURI+"/api/2.0/mlflow/runs/log-batch",
		func(req *http.Request) (*http.Response, error) {
			var b batchRequest
			if err := json.NewDecoder(req.Body).Decode(&b); err != nil {
				return nil, err
			}
			srv.mu.Lock()
			srv.batches = append(srv.batches, b)
			srv.mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	mt.RegisterResponder(http.MethodPost, testURI+"/api/2.0/mlflow/runs/update",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			srv.mu.Lock()
			srv.statuses = append(srv.statuses, body["status"].(string))
			srv.mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	mt.RegisterResponder(http.MethodPut, `=~^`+testURI+`/api/2\.0/mlflow-artifacts/artifacts/7/run-1/artifacts/`,
		func(req *http.Request) (*http.Response, error) {
			raw, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			srv.mu.Lock()
			srv.artifacts[filepath.Base(req.URL.Path)] = string(raw)
			srv.mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	return srv, &http.Client{Transport: mt}, mt
}

func newSink(client *http.Client) *Sink {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	return New(Options{
		URI:        testURI,
		Token:      "secret",
		Experiment: "CoffeeBeanDefectClassification",
		HTTPClient: client,
		Logger:     logger,
	})
}

func TestSinkSession(t *testing.T) {
	ctx := context.Background()
	srv, client, _ := newServer(t, true)
	s := newSink(client)

	require.NoError(t, s.Open(ctx, telemetry.RunInfo{
		Name:         "vit_20240101-0930",
		Architecture: "vit",
		Params:       map[string]string{"learning_rate": "1e-05", "batch_size": "32"},
	}))
	assert.Equal(t, "run-1", s.RunID())
	assert.Empty(t, srv.created, "existing experiment must be reused")
	assert.Equal(t, []string{"Bearer secret"}, srv.auth)

	require.NoError(t, s.LogEpoch(ctx, telemetry.EpochRecord{Fold: 2, Epoch: 5, ValAcc: 81.5, LearningRate: 5e-6}))

	ckpt := filepath.Join(t.TempDir(), "vit_20240101-0930_fold2_best.ckpt")
	require.NoError(t, os.WriteFile(ckpt, []byte("weights"), 0o644))
	require.NoError(t, s.LogArtifact(ctx, ckpt))

	require.NoError(t, s.LogSummary(ctx, telemetry.Summary{
		Metrics: map[string]float64{telemetry.SummaryAvgValAcc: 80},
		Tags:    map[string]string{telemetry.SummaryANOVAResult: "no difference"},
	}))
	require.NoError(t, s.Close(ctx, telemetry.StatusFinished))

	require.Len(t, srv.batches, 3)

	params := srv.batches[0].Params
	require.Len(t, params, 2)
	assert.Equal(t, Param{Key: "batch_size", Value: "32"}, params[0])

	epoch := srv.batches[1]
	assert.Equal(t, "run-1", epoch.RunID)
	require.Len(t, epoch.Metrics, 8)
	byKey := map[string]Metric{}
	for _, m := range epoch.Metrics {
		byKey[m.Key] = m
	}
	assert.Equal(t, 81.5, byKey["fold2/val_acc"].Value)
	assert.Equal(t, int64(5), byKey["fold2/val_acc"].Step)
	assert.Equal(t, 5e-6, byKey["fold2/learning_rate"].Value)

	summary := srv.batches[2]
	require.Len(t, summary.Metrics, 1)
	assert.Equal(t, telemetry.SummaryAvgValAcc, summary.Metrics[0].Key)
	assert.Equal(t, []Tag{{Key: telemetry.SummaryANOVAResult, Value: "no difference"}}, summary.Tags)

	assert.Equal(t, "weights", srv.artifacts["vit_20240101-0930_fold2_best.ckpt"])
	assert.Equal(t, []string{"FINISHED"}, srv.statuses)
}

func TestSinkCreatesMissingExperiment(t *testing.T) {
	srv, client, _ := newServer(t, false)
	s := newSink(client)

	require.NoError(t, s.Open(context.Background(), telemetry.RunInfo{Name: "comparison_20240101-0930"}))
	assert.Equal(t, []string{"CoffeeBeanDefectClassification"}, srv.created)
}

func TestSinkClampsNonFiniteMetrics(t *testing.T) {
	ctx := context.Background()
	srv, client, _ := newServer(t, true)
	s := newSink(client)
	require.NoError(t, s.Open(ctx, telemetry.RunInfo{Name: "comparison_20240101-0930"}))

	require.NoError(t, s.LogSummary(ctx, telemetry.Summary{Metrics: map[string]float64{
		telemetry.SummaryANOVAFStatistic: math.Inf(1),
		telemetry.SummaryANOVAPValue:     0,
		"broken":                         math.NaN(),
	}}))

	last := srv.batches[len(srv.batches)-1]
	require.Len(t, last.Metrics, 2)
	assert.Equal(t, telemetry.SummaryANOVAFStatistic, last.Metrics[0].Key)
	assert.Equal(t, math.MaxFloat64, last.Metrics[0].Value)
}

func TestSinkRequiresOpen(t *testing.T) {
	ctx := context.Background()
	_, client, _ := newServer(t, true)
	s := newSink(client)

	assert.True(t, errors.Is(s.LogEpoch(ctx, telemetry.EpochRecord{}), errors.ErrSinkNotOpen))
	assert.True(t, errors.Is(s.LogArtifact(ctx, "x"), errors.ErrSinkNotOpen))
	assert.True(t, errors.Is(s.LogSummary(ctx, telemetry.Summary{}), errors.ErrSinkNotOpen))
	assert.True(t, errors.Is(s.Close(ctx, telemetry.StatusFailed), errors.ErrSinkNotOpen))
}

func TestServerErrorsAreFatal(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponderWithQuery(http.MethodGet, testURI+"/api/2.0/mlflow/experiments/get-by-name",
		map[string]string{"experiment_name": "CoffeeBeanDefectClassification"},
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream down"))

	s := newSink(&http.Client{Transport: mt})
	err := s.Open(context.Background(), telemetry.RunInfo{Name: "vit_20240101-0930"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestLogBatchSplitsLargeBatches(t *testing.T) {
	srv, client, _ := newServer(t, true)
	c := NewClient(testURI, "", client)

	metrics := make([]Metric, MaxMetricsPerBatch+5)
	for i := range metrics {
		metrics[i] = Metric{Key: "m", Value: float64(i), Step: int64(i)}
	}
	require.NoError(t, c.LogBatch(context.Background(), "run-1", metrics, nil, []Tag{{Key: "k", Value: "v"}}))

	require.Len(t, srv.batches, 2)
	assert.Len(t, srv.batches[0].Metrics, MaxMetricsPerBatch)
	assert.Len(t, srv.batches[1].Metrics, 5)
	assert.Len(t, srv.batches[0].Tags, 1)
	assert.Empty(t, srv.batches[1].Tags)
}

func TestFactoryRequiresURI(t *testing.T) {
	_, err := Factory(Options{Experiment: "x"})()
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))
}
