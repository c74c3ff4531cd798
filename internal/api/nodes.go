package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nodelink-core/internal/node"
)

// Paging defaults for GET /nodes.
const (
	defaultPage     = 1
	defaultPageSize = 10
)

// handleSearchNodes returns one page of nodes.
//
// Query parameters:
//   - page, size: 1-based page number and page size (default 1 and 10)
//   - account_id: exact match
//   - name, mac_address, topic_pub, topic_sub: case-insensitive substring
//   - firmware_version, status: exact match
func (s *Server) handleSearchNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), defaultPage)
	if err != nil {
		writeBadRequest(w, "page must be an integer")
		return
	}
	size, err := intParam(q.Get("size"), defaultPageSize)
	if err != nil {
		writeBadRequest(w, "size must be an integer")
		return
	}

	filter := node.Filter{
		AccountID:  q.Get("account_id"),
		Name:       q.Get("name"),
		MACAddress: q.Get("mac_address"),
		TopicPub:   q.Get("topic_pub"),
		TopicSub:   q.Get("topic_sub"),
	}
	if v := q.Get("firmware_version"); v != "" {
		fw, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			writeBadRequest(w, "firmware_version must be an integer")
			return
		}
		filter.FirmwareVersion = &fw
	}
	if v := q.Get("status"); v != "" {
		st, parseErr := strconv.Atoi(v)
		if parseErr != nil {
			writeBadRequest(w, "status must be an integer")
			return
		}
		filter.Status = node.StatusPtr(node.Status(st))
	}

	result, err := s.registry.Search(r.Context(), filter, page, size)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCreateNode creates a node and subscribes its inbound topic.
func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var in node.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	n, err := s.registry.Create(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.watch(r.Context(), n)
	writeJSON(w, http.StatusCreated, n)
}

// handleGetNode returns a single node by ID.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleUpdateNode replaces a node's mutable fields.
func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var in node.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	n, err := s.registry.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.watch(r.Context(), n)
	writeJSON(w, http.StatusOK, n)
}

// handlePatchNode merges the supplied fields into a node.
func (s *Server) handlePatchNode(w http.ResponseWriter, r *http.Request) {
	var p node.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	n, err := s.registry.Patch(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if p.TopicSub != nil {
		s.watch(r.Context(), n)
	}
	writeJSON(w, http.StatusOK, n)
}

// handleDeleteNode soft-deletes a node. Deleting twice succeeds.
func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChangeStatus sets a node's status from the status query parameter.
func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		writeBadRequest(w, "status query parameter is required")
		return
	}
	st, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, "status must be an integer")
		return
	}

	n, err := s.registry.ChangeStatus(r.Context(), chi.URLParam(r, "id"), node.Status(st))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleGetAccountNode returns the active node of an account.
func (s *Server) handleGetAccountNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.registry.GetByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// SendMessageRequest is the body of POST /nodes/{id}/messages.
type SendMessageRequest struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	Language string `json:"language"`
}

// handleSendMessage publishes a command to one of the node's sub-devices.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command dispatch is not available")
		return
	}

	ack, err := s.dispatcher.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Name, req.Message, req.Language)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// watch subscribes n's inbound topic. The node is already stored, so a
// failure is logged, not returned. A subscription deferred while the
// broker is down is restored when the client reconnects.
func (s *Server) watch(ctx context.Context, n *node.Node) {
	if s.bridge == nil || n == nil {
		return
	}
	if err := s.bridge.Watch(ctx, n); err != nil {
		s.logger.Warn("subscribing node topic failed", "node_id", n.ID, "topic", n.TopicSub, "error", err)
	}
}

// intParam parses an optional integer query parameter.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", raw, err)
	}
	return v, nil
}
