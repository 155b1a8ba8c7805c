package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/inspect"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.engine.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	h := s.engine.Health()
	resp := HealthzResponse{
		Status:             "ok",
		UptimeSeconds:      int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:         depth,
		Ticks:              h.Ticks,
		PluginsLoaded:      h.Plugins,
		PluginsQuarantined: len(h.Quarantined),
		TagsHeld:           h.Tags,
	}
	if !h.LastTick.IsZero() {
		resp.LastTick = &h.LastTick
	}
	if len(h.Quarantined) > 0 {
		resp.Status = "degraded"
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleEnqueue handles POST /ops.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Op == nil {
		s.writeError(w, http.StatusBadRequest, "op is required")
		return
	}

	ent, err := s.engine.Enqueue(r.Context(), *req.Op)
	if err != nil {
		s.writeEngineError(w, "enqueue", "", err)
		return
	}
	respondJSON(w, http.StatusAccepted, inspect.NewNode(ent))
}

// handleGetOp handles GET /ops/{op_id}. The response embeds the entry's
// children, recursively.
func (s *Server) handleGetOp(w http.ResponseWriter, r *http.Request) {
	id := op.ID(chi.URLParam(r, "opID"))

	root, err := inspect.LoadTree(r.Context(), s.engine, id, s.config.MaxTreeDepth)
	if err != nil {
		s.writeEngineError(w, "get", id, err)
		return
	}
	respondJSON(w, http.StatusOK, root)
}

// handleReplace handles PUT /ops/{op_id}.
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id := op.ID(chi.URLParam(r, "opID"))

	var req ReplaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Op == nil {
		s.writeError(w, http.StatusBadRequest, "op is required")
		return
	}

	ent, err := s.engine.Replace(r.Context(), id, *req.Op, req.Revision)
	if err != nil {
		s.writeEngineError(w, "replace", id, err)
		return
	}
	respondJSON(w, http.StatusOK, inspect.NewNode(ent))
}

// handleListPlugins handles GET /plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	quarantined := s.engine.Health().Quarantined

	plugins := s.registry.All()
	resp := PluginListResponse{Plugins: make([]PluginSummary, 0, len(plugins))}
	for _, p := range plugins {
		caps := p.Capabilities()
		summary := PluginSummary{Name: p.Name(), Filter: caps.Filter, Process: caps.Process}
		if until, ok := quarantined[p.Name()]; ok {
			summary.QuarantinedUntil = &until
		}
		resp.Plugins = append(resp.Plugins, summary)
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleDeregister handles DELETE /plugins/{name}.
func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	released, err := s.engine.Deregister(r.Context(), name)
	switch {
	case errors.Is(err, dispatch.ErrUnknownPlugin):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("deregister plugin failed", "plugin", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to deregister plugin")
		return
	}
	respondJSON(w, http.StatusOK, DeregisterResponse{Plugin: name, Released: released})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeEngineError maps engine errors to status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, action string, id op.ID, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidOp):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "operation not found")
	case errors.Is(err, op.ErrStaleRevision), errors.Is(err, dispatch.ErrNotReplaceable):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("engine request failed", "action", action, "op_id", string(id), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+action+" operation")
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
