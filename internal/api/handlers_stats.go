package api

import (
	"net/http"
)

func (s *Server) handleStageStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"source": s.orchestrator.Stage().Options().Source,
		"stats":  s.orchestrator.Stats().Snapshot(),
	})
}

// handleStageInfo describes the loaded stage configuration.
func (s *Server) handleStageInfo(w http.ResponseWriter, r *http.Request) {
	st := s.orchestrator.Stage()
	opts := st.Options()

	queries := make([]map[string]any, 0, len(opts.PathQueries))
	for _, q := range opts.PathQueries {
		queries = append(queries, map[string]any{
			"expression":  q.Expression,
			"destination": q.Destination,
			"merge":       q.Merge,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"source":                  opts.Source,
		"target":                  opts.Target,
		"parse_mode":              st.Mode().String(),
		"path_queries":            queries,
		"store_whole_document":    opts.StoreDocument,
		"force_array":             opts.ForceArray,
		"force_content":           opts.ForceContent,
		"namespace_bindings":      opts.Namespaces,
		"remove_namespaces":       opts.RemoveNamespaces,
		"suppress_empty_elements": opts.SuppressEmpty,
		"encoding":                opts.Encoding,
		"content_key":             opts.ContentKey,
		"tag_on_failure":          opts.FailureTag,
	})
}
