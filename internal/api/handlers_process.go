package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/pipeline"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

// eventsRequest is the body of /api/process and /api/batches.
type eventsRequest struct {
	Events []*event.Record `json:"events"`
}

type processResponse struct {
	Events  []*event.Record    `json:"events"`
	Results []pipeline.Outcome `json:"results"`
	Tagged  int                `json:"tagged"`
	Skipped int                `json:"skipped"`
}

// readEvents decodes an events request and returns the raw body alongside.
// On failure the response has already been written.
func (s *Server) readEvents(w http.ResponseWriter, r *http.Request) ([]*event.Record, []byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return nil, nil, false
		}
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return nil, nil, false
	}

	var req eventsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return nil, nil, false
	}
	if len(req.Events) == 0 {
		jsonError(w, "at least one event is required", http.StatusBadRequest)
		return nil, nil, false
	}
	if s.cfg.MaxBatchEvents > 0 && len(req.Events) > s.cfg.MaxBatchEvents {
		jsonError(w, fmt.Sprintf("too many events (%d > %d)", len(req.Events), s.cfg.MaxBatchEvents), http.StatusRequestEntityTooLarge)
		return nil, nil, false
	}
	for i, ev := range req.Events {
		if ev == nil {
			req.Events[i] = event.NewRecord(nil)
		}
	}
	return req.Events, body, true
}

// handleProcess runs the events through the stage and returns them.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	events, _, ok := s.readEvents(w, r)
	if !ok {
		return
	}

	results, err := s.orchestrator.Process(r.Context(), events)
	if err != nil {
		jsonError(w, "processing interrupted: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := processResponse{Events: events, Results: results}
	for _, res := range results {
		switch res.State {
		case stage.StateFailed.String():
			resp.Tagged++
		case stage.StateSkipped.String():
			resp.Skipped++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
