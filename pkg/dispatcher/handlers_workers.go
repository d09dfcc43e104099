package dispatcher

import (
	"net/http"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/gorilla/mux"
)

type registerWorkerRequest struct {
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

// handleRegisterWorker implements `registerWorker` (spec §4.3/§6): upsert
// with status=IDLE, clear reservations, update heartbeat, trigger scheduler.
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorkerID == "" || req.Hostname == "" {
		writeError(w, apierr.New(apierr.BadRequest, "workerId and hostname are required"))
		return
	}

	now := types.NowMs()
	existing, err := s.reg.GetWorker(req.WorkerID)
	worker := existing
	if err != nil || worker == nil {
		worker = &types.Worker{ID: req.WorkerID, CreatedAt: now}
	}
	worker.Hostname = req.Hostname
	worker.OS = req.OS
	worker.Version = req.Version
	worker.CPUCount = req.CPUCount
	worker.CPUUsage = req.CPUUsage
	worker.RamTotalMb = req.RamTotalMb
	worker.RamFreeMb = req.RamFreeMb
	worker.Status = types.WorkerIdle
	worker.CurrentJobIDs = nil
	worker.ReservedCPU = 0
	worker.ReservedRamMb = 0
	worker.CooldownUntil = 0
	worker.HealthReason = ""
	worker.LastHeartbeat = now
	worker.UpdatedAt = now

	if err := s.reg.PutWorker(worker); err != nil {
		writeError(w, err)
		return
	}
	s.sched.Trigger()
	s.publishRegistered(worker)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "workerId": worker.ID})
}

func (s *Server) publishRegistered(worker *types.Worker) {
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventWorkerRegistered, WorkerID: worker.ID})
	}
}

type heartbeatRequest struct {
	WorkerID          string  `json:"workerId"`
	CPUUsage          float64 `json:"cpuUsage"`
	RamFreeMb         int64   `json:"ramFreeMb"`
	RamTotalMb        int64   `json:"ramTotalMb"`
	Status            string  `json:"status"`
	DockerContainers  int     `json:"dockerContainers"`
	DockerCPUUsage    float64 `json:"dockerCpuUsage"`
	DockerMemoryMb    int64   `json:"dockerMemoryMb"`
}

// handleHeartbeat implements `heartbeat` (spec §4.3/§6).
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	worker, err := s.reg.GetWorker(req.WorkerID)
	if err != nil {
		writeError(w, apierr.New(apierr.WorkerUnknown, "worker "+req.WorkerID+" not registered"))
		return
	}

	worker.CPUUsage = req.CPUUsage
	worker.RamFreeMb = req.RamFreeMb
	if req.RamTotalMb > 0 {
		worker.RamTotalMb = req.RamTotalMb
	}
	worker.Status = normalizeStatus(req.Status, len(worker.CurrentJobIDs) > 0)
	worker.LastHeartbeat = types.NowMs()
	worker.UpdatedAt = types.NowMs()

	if err := s.reg.PutWorker(worker); err != nil {
		writeError(w, err)
		return
	}
	s.sched.Trigger()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "timestamp": types.NowMs()})
}

// normalizeStatus maps an advertised status string to the canonical set,
// defaulting unknown values to IDLE/BUSY by current load (spec §4.3:
// "unknown -> IDLE").
func normalizeStatus(advertised string, busy bool) types.WorkerStatus {
	switch types.WorkerStatus(advertised) {
	case types.WorkerIdle, types.WorkerBusy, types.WorkerUnhealthy, types.WorkerOffline:
		return types.WorkerStatus(advertised)
	default:
		if busy {
			return types.WorkerBusy
		}
		return types.WorkerIdle
	}
}

// handleListWorkers implements `listWorkers` (spec §4.3/§6).
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.reg.ListWorkers(types.WorkerFilter{})
	if err != nil {
		writeError(w, err)
		return
	}

	counts := map[types.WorkerStatus]int{}
	for _, wk := range workers {
		counts[wk.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers":          workers,
		"totalWorkers":     len(workers),
		"idleWorkers":      counts[types.WorkerIdle],
		"busyWorkers":      counts[types.WorkerBusy],
		"unhealthyWorkers": counts[types.WorkerUnhealthy],
	})
}

// handleDeleteWorker implements `deleteWorker` (spec §4.3/§6).
func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["workerId"]
	_, err := s.reg.GetWorker(id)
	existed := err == nil

	if existed {
		if err := s.reg.DeleteWorker(id); err != nil {
			writeError(w, err)
			return
		}
		s.sched.Trigger()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "existed": existed})
}
