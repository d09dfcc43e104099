package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegisterWorkerSendsTokenHeader(t *testing.T) {
	var gotToken string
	var gotBody RegisterRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Worker-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("test-token")

	err := c.RegisterWorker(context.Background(), RegisterRequest{WorkerID: "worker-1", Hostname: "host-a"})
	require.NoError(t, err)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, "worker-1", gotBody.WorkerID)
}

func TestClientPollJobNoWork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{"job": nil})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	job, err := c.PollJob(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClientPollJobReturnsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"job": map[string]interface{}{
				"jobId":     "job-1",
				"command":   "echo hi",
				"timeoutMs": 5000,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	job, err := c.PollJob(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, int64(5000), job.TimeoutMs)
}

func TestClientDoReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"BadRequest","detail":"nope"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.RegisterWorker(context.Background(), RegisterRequest{})
	assert.Error(t, err)
}

func TestClientFetchBundleSendsTokenHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Worker-Token")
		w.Write([]byte("bundle-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("test-token")
	data, err := c.FetchBundle(context.Background(), "some-ref")
	require.NoError(t, err)
	assert.Equal(t, "bundle-bytes", string(data))
	assert.Equal(t, "test-token", gotToken)
}

func TestClientUploadResultParsesRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/zip", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(map[string]string{"ref": "abc123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ref, err := c.UploadResult(context.Background(), "job-1", []byte("zip data"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", ref)
}
