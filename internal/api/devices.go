package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/propertyhub-core/internal/device"
)

// maxListLimit caps the limit query parameter.
const maxListLimit = 1000

// pathID returns the {id} URL parameter unescaped. Device entity keys
// contain "/", so clients send them as %2F.
func pathID(r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// parseLimit reads the limit query parameter. Zero means the store default.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, false
	}
	return n, true
}

// handleListDevices returns all devices.
//
// Query parameters:
//   - scope: only devices in this scope (unit id)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device store not configured")
		return
	}

	devices, err := s.devices.List(r.Context(), r.URL.Query().Get("scope"))
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}

	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListReadings returns the newest readings for a device.
//
// Query parameters:
//   - metric: only this metric
//   - limit: 1..1000, default 100
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	readings, err := s.devices.ListReadings(r.Context(), id, r.URL.Query().Get("metric"), limit)
	if err != nil {
		s.logger.Error("listing readings", "device_id", id, "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}
	if readings == nil {
		readings = []device.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "readings": readings, "count": len(readings)})
}

// handleListAccessEvents returns the newest access events for a lock.
func (s *Server) handleListAccessEvents(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device store not configured")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	events, err := s.devices.ListAccessEvents(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("listing access events", "device_id", id, "error", err)
		writeInternalError(w, "failed to list access events")
		return
	}
	if events == nil {
		events = []device.AccessEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "events": events, "count": len(events)})
}
