package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *GraphServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/nodes", s.handleCreateNode)
	mux.HandleFunc("GET /v1/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("DELETE /v1/nodes/{id}", s.handleDeleteNode)
	mux.HandleFunc("POST /v1/nodes/{id}/resolve", s.handleResolveNode)
	mux.HandleFunc("POST /v1/nodes/{id}/reopen", s.handleReopenNode)
	mux.HandleFunc("GET /v1/nodes/{id}/blocking", s.handleBlocking)
	mux.HandleFunc("GET /v1/nodes/{id}/blocked-by", s.handleBlockedBy)
	mux.HandleFunc("GET /v1/nodes/{id}/dependencies", s.handleDependencies)
	mux.HandleFunc("POST /v1/edges", s.handleAddEdge)
	mux.HandleFunc("GET /v1/edges", s.handleGetEdge)
	mux.HandleFunc("DELETE /v1/edges", s.handleRemoveEdge)
	mux.HandleFunc("POST /v1/edges/check", s.handleCheckEdge)
	mux.HandleFunc("GET /v1/projects/{id}/graph", s.handleProjectGraph)
	mux.HandleFunc("GET /v1/tickets/{id}/graph", s.handleTicketGraph)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	if s.roster != nil {
		mux.HandleFunc("GET /v1/discovery/agents", s.handleDiscoveryAgents)
	}
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *GraphServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.Health(r.Context(), &api.HealthRequest{})
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateNode handles POST /v1/nodes.
func (s *GraphServer) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req api.CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, errInvalidBody)
		return
	}
	n, err := s.CreateNode(r.Context(), &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleGetNode handles GET /v1/nodes/{id}.
func (s *GraphServer) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.GetNode(r.Context(), &api.NodeRequest{ID: r.PathValue("id")})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleDeleteNode handles DELETE /v1/nodes/{id}?actor=.
func (s *GraphServer) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	resp, err := s.DeleteNode(r.Context(), &api.NodeRequest{
		ID:    r.PathValue("id"),
		Actor: r.URL.Query().Get("actor"),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResolveNode handles POST /v1/nodes/{id}/resolve.
func (s *GraphServer) handleResolveNode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNodeRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.ResolveNode(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReopenNode handles POST /v1/nodes/{id}/reopen.
func (s *GraphServer) handleReopenNode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNodeRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.ReopenNode(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeNodeRequest reads the optional {"actor": ...} body of a state
// change. The node id always comes from the path.
func decodeNodeRequest(w http.ResponseWriter, r *http.Request) (*api.NodeRequest, bool) {
	var req api.NodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeEngineError(w, errInvalidBody)
		return nil, false
	}
	req.ID = r.PathValue("id")
	return &req, true
}

// handleBlocking handles GET /v1/nodes/{id}/blocking.
func (s *GraphServer) handleBlocking(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Blocking(r.Context(), &api.NodeRequest{ID: r.PathValue("id")})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBlockedBy handles GET /v1/nodes/{id}/blocked-by.
func (s *GraphServer) handleBlockedBy(w http.ResponseWriter, r *http.Request) {
	resp, err := s.BlockedBy(r.Context(), &api.NodeRequest{ID: r.PathValue("id")})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDependencies handles GET /v1/nodes/{id}/dependencies.
func (s *GraphServer) handleDependencies(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Dependencies(r.Context(), &api.NodeRequest{ID: r.PathValue("id")})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleAddEdge handles POST /v1/edges.
func (s *GraphServer) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var req api.AddEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, errInvalidBody)
		return
	}
	edge, err := s.AddEdge(r.Context(), &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

// handleGetEdge handles GET /v1/edges?from=&to=.
func (s *GraphServer) handleGetEdge(w http.ResponseWriter, r *http.Request) {
	edge, err := s.GetEdge(r.Context(), edgeQuery(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// handleRemoveEdge handles DELETE /v1/edges?from=&to=&actor=.
func (s *GraphServer) handleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	edge, err := s.RemoveEdge(r.Context(), edgeQuery(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func edgeQuery(r *http.Request) *api.EdgeRequest {
	q := r.URL.Query()
	return &api.EdgeRequest{From: q.Get("from"), To: q.Get("to"), Actor: q.Get("actor")}
}

// handleCheckEdge handles POST /v1/edges/check.
func (s *GraphServer) handleCheckEdge(w http.ResponseWriter, r *http.Request) {
	var req api.EdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, errInvalidBody)
		return
	}
	check, err := s.CheckEdge(r.Context(), &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// handleProjectGraph handles GET /v1/projects/{id}/graph.
func (s *GraphServer) handleProjectGraph(w http.ResponseWriter, r *http.Request) {
	req, err := graphQuery(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	req.ProjectID = r.PathValue("id")
	s.writeGraph(w, r, req)
}

// handleTicketGraph handles GET /v1/tickets/{id}/graph.
func (s *GraphServer) handleTicketGraph(w http.ResponseWriter, r *http.Request) {
	req, err := graphQuery(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	req.TicketID = r.PathValue("id")
	s.writeGraph(w, r, req)
}

func (s *GraphServer) writeGraph(w http.ResponseWriter, r *http.Request, req *api.GraphRequest) {
	snap, err := s.GetGraph(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// graphQuery parses the include_resolved and include_discoveries flags.
func graphQuery(r *http.Request) (*api.GraphRequest, error) {
	q := r.URL.Query()
	var req api.GraphRequest
	var err error
	if v := q.Get("include_resolved"); v != "" {
		if req.IncludeResolved, err = strconv.ParseBool(v); err != nil {
			return nil, inputError("invalid include_resolved value")
		}
	}
	if v := q.Get("include_discoveries"); v != "" {
		if req.IncludeDiscoveries, err = strconv.ParseBool(v); err != nil {
			return nil, inputError("invalid include_discoveries value")
		}
	}
	return &req, nil
}

// handleDiscoveryAgents handles GET /v1/discovery/agents?stale=<duration>.
func (s *GraphServer) handleDiscoveryAgents(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeEngineError(w, inputError("stale must be a non-negative duration"))
			return
		}
		stale = d
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.roster.Entries(stale)})
}

const errInvalidBody = inputError("invalid JSON body")

// httpStatus maps an engine error to its HTTP status.
func httpStatus(err error) int {
	switch model.Code(err) {
	case model.CodeNodeNotFound, model.CodeEdgeNotFound:
		return http.StatusNotFound
	case model.CodeDuplicateID, model.CodeDuplicateEdge, model.CodeWouldCreateCycle, model.CodeTicketHasTasks:
		return http.StatusConflict
	case model.CodeInvalidParent, model.CodeCrossProjectEdge, model.CodeSelfLoop:
		return http.StatusUnprocessableEntity
	case model.CodeInvalidArgument:
		return http.StatusBadRequest
	case model.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeEngineError writes err as {"error", "code"} with the mapped status.
func writeEngineError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), api.ErrorResponse{Error: err.Error(), Code: model.Code(err)})
}

// writeJSON encodes data as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
