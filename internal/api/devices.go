package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SubDeviceRequest is the body of POST and PATCH /nodes/{id}/devices.
// NewName and NewType are used by PATCH only; an empty value leaves the
// field unchanged.
type SubDeviceRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NewName string `json:"new_name"`
	NewType string `json:"new_type"`
}

// handleListSubDevices returns the node's sub-devices.
func (s *Server) handleListSubDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleAddSubDevice appends a sub-device. Names are unique per node,
// ignoring case.
func (s *Server) handleAddSubDevice(w http.ResponseWriter, r *http.Request) {
	var req SubDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	n, err := s.registry.AddDevice(r.Context(), chi.URLParam(r, "id"), req.Name, req.Type)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleUpdateSubDevice renames and/or retypes a sub-device.
func (s *Server) handleUpdateSubDevice(w http.ResponseWriter, r *http.Request) {
	var req SubDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	n, err := s.registry.UpdateDevice(r.Context(), chi.URLParam(r, "id"), req.Name, req.NewName, req.NewType)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleRemoveSubDevice removes the sub-device named by the name query
// parameter. Removing an absent sub-device succeeds.
func (s *Server) handleRemoveSubDevice(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeBadRequest(w, "name query parameter is required")
		return
	}

	n, err := s.registry.RemoveDevice(r.Context(), chi.URLParam(r, "id"), name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
