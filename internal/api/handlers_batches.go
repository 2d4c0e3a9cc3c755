package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/xmlfilter/internal/pipeline"
)

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	events, body, ok := s.readEvents(w, r)
	if !ok {
		return
	}

	job := pipeline.NewJob(events)
	job.ContentHash = pipeline.ContentHashHex(body)

	if err := s.orchestrator.Submit(job); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) {
			code = http.StatusServiceUnavailable
		}
		jsonError(w, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.ID,
		"status":       pipeline.StatusQueued,
		"total_events": len(events),
		"content_hash": job.ContentHash,
		"poll_url":     fmt.Sprintf("/api/batches/%s/status", job.ID),
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	snap := job.Snapshot()
	resp := map[string]any{
		"job_id":     snap.ID,
		"status":     snap.Status,
		"phase":      snap.Phase,
		"progress":   snap.Progress,
		"created_at": snap.CreatedAt,
		"updated_at": snap.UpdatedAt,
	}
	// Events are mutated in place until the job finishes.
	if snap.Status == pipeline.StatusCompleted {
		resp["events"] = job.Events()
		resp["results"] = job.Outcomes()
	}
	writeJSON(w, http.StatusOK, resp)
}
