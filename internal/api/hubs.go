package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxace/ajax-sync-core/internal/ajax"
	"github.com/foxace/ajax-sync-core/internal/state"
)

// hubSummary is the list-view projection of a hub snapshot.
type hubSummary struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ArmedMode   ajax.ArmedMode `json:"armed_mode"`
	Online      bool           `json:"online"`
	Stale       bool           `json:"stale,omitempty"`
	DeviceCount int            `json:"device_count"`
	GroupCount  int            `json:"group_count"`
	LastSeen    time.Time      `json:"last_seen"`
}

// handleListHubs returns summaries of every known hub.
func (s *Server) handleListHubs(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.store.SnapshotAll()

	summaries := make([]hubSummary, 0, len(snapshots))
	for _, hub := range snapshots {
		summaries = append(summaries, hubSummary{
			ID:          hub.ID,
			Name:        hub.Name,
			ArmedMode:   hub.ArmedMode,
			Online:      hub.Online,
			Stale:       hub.Stale,
			DeviceCount: len(hub.Devices),
			GroupCount:  len(hub.Groups),
			LastSeen:    hub.LastSeen,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"hubs":  summaries,
		"count": len(summaries),
	})
}

// handleGetHub returns the full snapshot for one hub.
func (s *Server) handleGetHub(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubID")

	hub, err := s.store.Snapshot(hubID)
	if err != nil {
		if errors.Is(err, state.ErrHubNotFound) {
			writeNotFound(w, "hub not found: "+hubID)
			return
		}
		writeInternalError(w, "snapshot failed")
		return
	}

	writeJSON(w, http.StatusOK, hub)
}

// handleListDevices returns the devices of one hub, sorted by id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubID")

	hub, err := s.store.Snapshot(hubID)
	if err != nil {
		if errors.Is(err, state.ErrHubNotFound) {
			writeNotFound(w, "hub not found: "+hubID)
			return
		}
		writeInternalError(w, "snapshot failed")
		return
	}

	devices := make([]*ajax.DeviceRecord, 0, len(hub.Devices))
	for _, d := range hub.Devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device record.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubID")
	deviceID := chi.URLParam(r, "deviceID")

	hub, err := s.store.Snapshot(hubID)
	if err != nil {
		if errors.Is(err, state.ErrHubNotFound) {
			writeNotFound(w, "hub not found: "+hubID)
			return
		}
		writeInternalError(w, "snapshot failed")
		return
	}

	device, ok := hub.Devices[deviceID]
	if !ok {
		writeNotFound(w, "device not found: "+deviceID)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// handleRefreshHub triggers an out-of-band full metadata refresh.
func (s *Server) handleRefreshHub(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeNotFound(w, "refresh not available")
		return
	}

	hubID := chi.URLParam(r, "hubID")
	if _, err := s.store.Snapshot(hubID); err != nil {
		writeNotFound(w, "hub not found: "+hubID)
		return
	}

	s.refresh.ForceRefresh(hubID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "refresh scheduled",
		"hub_id": hubID,
	})
}
