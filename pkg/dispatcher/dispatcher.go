// Package dispatcher implements the Dispatcher API (spec §4.3, wire
// contract in §6): the HTTP/JSON handlers workers and users call, each
// validating input, mutating the Registry, and triggering the Scheduler.
package dispatcher

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/dispatch-core/pkg/blobstore"
	"github.com/cuemby/dispatch-core/pkg/cache"
	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/log"
	"github.com/cuemby/dispatch-core/pkg/metrics"
	"github.com/cuemby/dispatch-core/pkg/registry"
	"github.com/cuemby/dispatch-core/pkg/scheduler"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server is the HTTP server exposing the Dispatcher API.
type Server struct {
	reg    *registry.Registry
	sched  *scheduler.Scheduler
	cache  *cache.Cache
	broker *events.Broker
	blobs  blobstore.Store
	cfg    config.Dispatcher
	auth   *TokenAuth
	logger zerolog.Logger

	router *mux.Router
}

// NewServer wires the Dispatcher API router over reg/sched/cache/broker. A
// nil blobs disables the hosted Blob Store endpoints (spec §4.5 treats the
// Blob Store as an external collaborator; hosting it here is this
// deployment's choice of that collaborator, not a spec requirement).
func NewServer(reg *registry.Registry, sched *scheduler.Scheduler, c *cache.Cache, broker *events.Broker, blobs blobstore.Store, cfg config.Dispatcher) *Server {
	s := &Server{
		reg:    reg,
		sched:  sched,
		cache:  c,
		broker: broker,
		blobs:  blobs,
		cfg:    cfg,
		auth:   NewTokenAuth(cfg.WorkerTokenSecret),
		logger: log.WithComponent("dispatcher"),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/admin/events", s.handleAdminEvents).Methods(http.MethodGet)

	workers := r.PathPrefix("/workers").Subrouter()
	workers.Use(s.workerAuthMiddleware, s.rateLimitMiddleware)
	workers.HandleFunc("/register", s.handleRegisterWorker).Methods(http.MethodPost)
	workers.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	workers.HandleFunc("/list", s.handleListWorkers).Methods(http.MethodGet)
	workers.HandleFunc("/{workerId}", s.handleDeleteWorker).Methods(http.MethodDelete)

	jobs := r.PathPrefix("/jobs").Subrouter()
	jobs.Use(s.workerAuthMiddleware, s.rateLimitMiddleware)
	jobs.HandleFunc("/create", s.handleCreateJob).Methods(http.MethodPost)
	jobs.HandleFunc("/get-job", s.handleGetJob).Methods(http.MethodGet)
	jobs.HandleFunc("/stream-output", s.handleStreamOutput).Methods(http.MethodPost)
	jobs.HandleFunc("/submit-result", s.handleSubmitResult).Methods(http.MethodPost)
	jobs.HandleFunc("/submit-result", s.handleReportFailure).Methods(http.MethodPut)
	jobs.HandleFunc("/status", s.handleJobStatus).Methods(http.MethodGet)
	jobs.HandleFunc("/cancel", s.handleCancelJob).Methods(http.MethodPost)
	jobs.HandleFunc("/check-cancel", s.handleCheckCancel).Methods(http.MethodGet)
	jobs.HandleFunc("/list", s.handleListJobs).Methods(http.MethodGet)

	blobs := r.PathPrefix("/blobs").Subrouter()
	blobs.Use(s.workerAuthMiddleware, s.rateLimitMiddleware)
	blobs.HandleFunc("", s.handlePutBlob).Methods(http.MethodPost)
	blobs.HandleFunc("/list", s.handleListBlobs).Methods(http.MethodGet)
	blobs.HandleFunc("/{ref}", s.handleGetBlob).Methods(http.MethodGet)
	blobs.HandleFunc("/{ref}", s.handleDeleteBlob).Methods(http.MethodDelete)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.URL.Path)
		metrics.APIRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug().Str("path", r.URL.Path).Int("status", rec.status).Dur("elapsed", timer.Duration()).Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "events not enabled", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
			w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}
