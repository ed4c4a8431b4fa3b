package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"runtime"

	"github.com/trailcast/orchestrator/jobmanager"
	"github.com/trailcast/orchestrator/model"
)

type page struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}

// GET /jobs
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	f := jobmanager.ListFilter{
		Type:   r.URL.Query().Get("type"),
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Page:   queryInt(r, "page", 1),
		Size:   queryInt(r, "size", 50),
	}
	jobs, total, err := s.jobs.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page{Items: jobs, Total: total, Page: f.Page, Size: f.Size})
}

// POST /jobs/{type}/execute
func (s *Server) executeJob(w http.ResponseWriter, r *http.Request) {
	jobType := s.pathParam(r, "id")

	var body map[string]any
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
	}
	params := model.BagFrom(body)
	requestedBy := r.Header.Get("X-Requested-By")

	id, err := s.jobs.Submit(r.Context(), jobType, params, requestedBy)
	if err != nil {
		status := classifySubmitError(err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": string(model.JobPending)})
}

func classifySubmitError(err error) int {
	msg := err.Error()
	switch {
	case contains(msg, "already running"):
		return http.StatusConflict
	case contains(msg, "unknown job type"):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

// GET /jobs/{id}
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := s.pathParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil || job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /jobs/{id}/stop
func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	id := s.pathParam(r, "id")
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var body struct {
		Reason string `json:"reason"`
		Force  bool   `json:"force"`
	}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
	}

	accepted, err := s.jobs.Stop(r.Context(), id, body.Reason, body.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !accepted {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

// GET /jobs/{id}/logs
func (s *Server) jobLogs(w http.ResponseWriter, r *http.Request) {
	id := s.pathParam(r, "id")
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var level *model.LogLevel
	if lv := r.URL.Query().Get("level"); lv != "" {
		l := model.LogLevel(lv)
		level = &l
	}
	p, size := queryInt(r, "page", 1), queryInt(r, "size", 50)
	entries, total, err := s.jobs.Logs(r.Context(), id, level, p, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page{Items: entries, Total: total, Page: p, Size: size})
}

// GET /jobs/stats
func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context(), nil, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /system/status
func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	running, _, _ := s.jobs.List(r.Context(), jobmanager.ListFilter{Status: model.JobRunning, Page: 1, Size: 1000})

	status := map[string]any{
		"running_jobs": len(running),
		"goroutines":   runtime.NumGoroutine(),
		"heap_alloc":   mem.HeapAlloc,
		"key_pools":    s.keys.Summary(),
	}
	if s.policy != nil {
		status["storage_tally"] = s.policy.Tally()
	}
	if s.monitor != nil {
		status["active_alerts"] = s.monitor.ActiveAlerts()
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /system/cleanup?days=N
func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	jobsDeleted, logsDeleted, err := s.jobs.Cleanup(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"jobs_deleted": jobsDeleted, "logs_deleted": logsDeleted})
}

// GET /jobs/{job_id}/logs/stream?api_key=...
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	jobID := s.pathParam(r, "id")
	apiKey := r.URL.Query().Get("api_key")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("httpapi: websocket upgrade failed: %v", err)
		return
	}
	// Connect sends close code 4001 and closes conn itself on a bad
	// api_key (spec.md §6 "Close code 4001 on invalid api_key").
	if err := s.fanout.Connect(conn, jobID, apiKey); err != nil {
		logger.InfoF("httpapi: websocket connect for job %s rejected: %v", jobID, err)
	}
}
