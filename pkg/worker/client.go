package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the thin HTTP/JSON client side of the wire protocol (spec §6).
type Client struct {
	baseAddr string
	http     *http.Client
	token    string
}

// NewClient builds a Client targeting the dispatcher at baseAddr.
func NewClient(baseAddr string) *Client {
	return &Client{baseAddr: baseAddr, http: &http.Client{Timeout: 30 * time.Second}}
}

// SetToken installs the worker token (self-issued by the agent from the
// shared secret before registering), carried on every subsequent request.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseAddr+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Worker-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// RegisterWorker calls `registerWorker`.
func (c *Client) RegisterWorker(ctx context.Context, req RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/workers/register", req, nil)
}

// RegisterRequest mirrors dispatcher.registerWorkerRequest.
type RegisterRequest struct {
	WorkerID   string  `json:"workerId"`
	Hostname   string  `json:"hostname"`
	OS         string  `json:"os"`
	CPUCount   float64 `json:"cpuCount"`
	CPUUsage   float64 `json:"cpuUsage"`
	RamTotalMb int64   `json:"ramTotalMb"`
	RamFreeMb  int64   `json:"ramFreeMb"`
	Version    string  `json:"version"`
	Status     string  `json:"status"`
}

// HeartbeatRequest carries the host-metric subset of
// dispatcher.heartbeatRequest; the sandbox telemetry fields (dockerContainers,
// dockerCpuUsage, dockerMemoryMb) are not sent.
type HeartbeatRequest struct {
	WorkerID   string  `json:"workerId"`
	CPUUsage   float64 `json:"cpuUsage"`
	RamFreeMb  int64   `json:"ramFreeMb"`
	RamTotalMb int64   `json:"ramTotalMb"`
	Status     string  `json:"status"`
}

// Heartbeat calls `heartbeat`.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.do(ctx, http.MethodPost, "/workers/heartbeat", req, nil)
}

// polledJob is the job shape pollJob returns (spec §6: jobId/command/
// bundleRef/bundleName/timeoutMs only — stdout/stderr/etc are not handed to
// the worker).
type polledJob struct {
	JobID      string `json:"jobId"`
	Command    string `json:"command"`
	BundleRef  string `json:"bundleRef"`
	BundleName string `json:"bundleName"`
	TimeoutMs  int64  `json:"timeoutMs"`
}

type pollJobResponse struct {
	Success bool       `json:"success"`
	Job     *polledJob `json:"job"`
}

// PollJob calls `pollJob`. A nil job means no work is currently assigned.
func (c *Client) PollJob(ctx context.Context, workerID string) (*polledJob, error) {
	var resp pollJobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/get-job?workerId="+workerID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// StreamOutput calls `streamOutput` with one stdout or stderr chunk.
func (c *Client) StreamOutput(ctx context.Context, jobID, kind, data string) error {
	req := map[string]string{"jobId": jobID, "type": kind, "data": data}
	return c.do(ctx, http.MethodPost, "/jobs/stream-output", req, nil)
}

// SubmitResultRequest mirrors dispatcher.submitResultRequest.
type SubmitResultRequest struct {
	JobID      string `json:"jobId"`
	WorkerID   string `json:"workerId"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	ResultRef  string `json:"resultRef,omitempty"`
	ResultName string `json:"resultName,omitempty"`
}

// SubmitResult calls `submitResult`.
func (c *Client) SubmitResult(ctx context.Context, req SubmitResultRequest) error {
	return c.do(ctx, http.MethodPost, "/jobs/submit-result", req, nil)
}

// ReportFailure calls `reportFailure`.
func (c *Client) ReportFailure(ctx context.Context, jobID, workerID, errorMessage string) error {
	req := map[string]string{"jobId": jobID, "workerId": workerID, "errorMessage": errorMessage}
	return c.do(ctx, http.MethodPut, "/jobs/submit-result", req, nil)
}

type checkCancelResponse struct {
	CancelRequested bool `json:"cancelRequested"`
}

// CheckCancel calls `checkCancel`.
func (c *Client) CheckCancel(ctx context.Context, jobID string) (bool, error) {
	var resp checkCancelResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/check-cancel?jobId="+jobID, nil, &resp); err != nil {
		return false, err
	}
	return resp.CancelRequested, nil
}

// FetchBundle downloads the bundle bytes referenced by ref from the Blob
// Store (spec §4.5), authenticated with the same worker token.
func (c *Client) FetchBundle(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseAddr+"/blobs/"+ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build blob request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("X-Worker-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch bundle %s: status %d", ref, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// UploadResult uploads the result archive and returns its ref.
func (c *Client) UploadResult(ctx context.Context, jobID string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseAddr+"/blobs", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build blob upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("X-Blob-Filename", jobID+"-result.zip")
	if c.token != "" {
		req.Header.Set("X-Worker-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload result %s: %w", jobID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("upload result %s: status %d: %s", jobID, resp.StatusCode, string(body))
	}
	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return out.Ref, nil
}
