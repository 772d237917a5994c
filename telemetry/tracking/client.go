package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-http-utils/headers"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

const (
	apiPrefix      = "/api/2.0/mlflow"
	artifactPrefix = "/api/2.0/mlflow-artifacts/artifacts"

	// MaxMetricsPerBatch is the server-side limit of one log-batch call.
	MaxMetricsPerBatch = 1000

	// MaxParamsPerBatch is the server-side limit of one log-batch call.
	MaxParamsPerBatch = 100

	userAgent = "beanscope"
)

// ErrorCodeNotFound is returned by the server for missing resources.
const ErrorCodeNotFound = "RESOURCE_DOES_NOT_EXIST"

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracking: %s %s: status %d: %s %s", e.Method, e.Path, e.StatusCode, e.ErrorCode, e.Message)
}

// IsNotFound reports whether err is a RESOURCE_DOES_NOT_EXIST response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode == ErrorCodeNotFound || apiErr.StatusCode == http.StatusNotFound)
}

// Metric is one logged value.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// Param is a run parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tag is a run tag.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunInfo identifies a created run.
type RunInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name"`
	Status       string `json:"status"`
	ArtifactURI  string `json:"artifact_uri"`
}

// Client talks to an MLflow-compatible tracking server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the server at uri. token is sent as a
// bearer token when not empty.
func NewClient(uri, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(uri, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// GetExperimentByName returns the experiment id. A missing experiment
// yields an error for which IsNotFound is true.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (string, error) {
	var resp struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	path := apiPrefix + "/experiments/get-by-name?experiment_name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Experiment.ExperimentID, nil
}

// CreateExperiment creates an experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/experiments/create", map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

// EnsureExperiment returns the id of the named experiment, creating it when
// it does not exist.
func (c *Client) EnsureExperiment(ctx context.Context, name string) (string, error) {
	id, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		return id, nil
	}
	if !IsNotFound(err) {
		return "", err
	}
	return c.CreateExperiment(ctx, name)
}

// CreateRun starts a run in the experiment.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, start time.Time, tags []Tag) (*RunInfo, error) {
	req := struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		StartTime    int64  `json:"start_time"`
		Tags         []Tag  `json:"tags,omitempty"`
	}{experimentID, runName, start.UnixMilli(), tags}

	var resp struct {
		Run struct {
			Info RunInfo `json:"info"`
		} `json:"run"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Run.Info, nil
}

// LogBatch logs metrics, params and tags, splitting them over as many calls
// as the server limits require.
func (c *Client) LogBatch(ctx context.Context, runID string, metrics []Metric, params []Param, tags []Tag) error {
	type batch struct {
		RunID   string   `json:"run_id"`
		Metrics []Metric `json:"metrics,omitempty"`
		Params  []Param  `json:"params,omitempty"`
		Tags    []Tag    `json:"tags,omitempty"`
	}

	first := true
	for first || len(metrics) > 0 || len(params) > 0 {
		b := batch{RunID: runID}
		n := min(len(metrics), MaxMetricsPerBatch)
		b.Metrics, metrics = metrics[:n], metrics[n:]
		n = min(len(params), MaxParamsPerBatch)
		b.Params, params = params[:n], params[n:]
		if first {
			b.Tags = tags
			first = false
		}
		if err := c.do(ctx, http.MethodPost, apiPrefix+"/runs/log-batch", b, nil); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRun sets the terminal status of a run.
func (c *Client) UpdateRun(ctx context.Context, runID, status string, end time.Time) error {
	req := struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}{runID, status, end.UnixMilli()}
	return c.do(ctx, http.MethodPost, apiPrefix+"/runs/update", req, nil)
}

// UploadArtifact stores the file at path in the run's artifact root under
// its base name.
func (c *Client) UploadArtifact(ctx context.Context, experimentID, runID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open artifact %s", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat artifact %s", path)
	}

	target := fmt.Sprintf("%s/%s/%s/artifacts/%s", artifactPrefix, url.PathEscape(experimentID), url.PathEscape(runID), url.PathEscape(filepath.Base(path)))
	req, err := c.newRequest(ctx, http.MethodPut, target, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set(headers.ContentType, "application/octet-stream")
	return c.send(req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "tracking: encode %s request", path)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set(headers.ContentType, "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "tracking: build %s %s", method, path)
	}
	req.Header.Set(headers.Accept, "application/json")
	req.Header.Set(headers.UserAgent, userAgent)
	if c.token != "" {
		req.Header.Set(headers.Authorization, "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "tracking: %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "tracking: read %s response", req.URL.Path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return errors.WithStack(apiErr)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "tracking: decode %s response", req.URL.Path)
	}
	return nil
}
