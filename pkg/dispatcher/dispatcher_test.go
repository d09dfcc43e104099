package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/dispatch-core/pkg/blobstore"
	"github.com/cuemby/dispatch-core/pkg/cache"
	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/registry"
	"github.com/cuemby/dispatch-core/pkg/scheduler"
	"github.com/cuemby/dispatch-core/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New(store, nil)
	broker := events.NewBroker()
	cfg := config.DefaultDispatcher()
	sched := scheduler.New(reg, broker, cfg)
	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	return NewServer(reg, sched, (*cache.Cache)(nil), broker, blobs, cfg)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobRequiresCommand(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/jobs/create", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobThenListAndStatus(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/jobs/create", map[string]string{"command": "echo hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	jobID, _ := created["jobId"].(string)
	require.NotEmpty(t, jobID)

	rec = doJSON(t, s, http.MethodGet, "/jobs/list", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/jobs/status?jobId="+jobID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "QUEUED", status["status"])
}

func TestJobStatusUnknownJobReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/jobs/status?jobId=does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthenticatedRouteRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/jobs/cancel", map[string]string{"jobId": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatedRouteAcceptsValidWorkerToken(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/jobs/create", map[string]string{"command": "echo hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	jobID := created["jobId"].(string)

	token, err := s.auth.Issue("worker-1", "host-a")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"jobId": jobID})
	req := httptest.NewRequest(http.MethodPost, "/jobs/cancel", bytes.NewReader(body))
	req.Header.Set("X-Worker-Token", token)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestBlobRoundTripThroughHTTP(t *testing.T) {
	s := newTestServer(t)
	token, err := s.auth.Issue("worker-1", "host-a")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/blobs", bytes.NewReader([]byte("bundle bytes")))
	req.Header.Set("X-Worker-Token", token)
	req.Header.Set("X-Blob-Filename", "bundle.zip")
	req.Header.Set("Content-Type", "application/zip")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var putResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &putResp))
	ref := putResp["ref"]
	require.NotEmpty(t, ref)

	getReq := httptest.NewRequest(http.MethodGet, "/blobs/"+ref, nil)
	getReq.Header.Set("X-Worker-Token", token)
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "bundle bytes", getRec.Body.String())
}
