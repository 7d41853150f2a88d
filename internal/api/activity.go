package api

import (
	"net/http"
	"strconv"
)

// maxActivityLimit caps the limit query parameter.
const maxActivityLimit = 1000

// queryLimit parses ?limit=, returning def when absent.
func queryLimit(r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxActivityLimit), true
}

func (s *Server) activityEnabled(w http.ResponseWriter) bool {
	if s.activity == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "activity recording is disabled")
		return false
	}
	return true
}

// handleActivityGroups lists group addresses seen on the bus, most recent first.
func (s *Server) handleActivityGroups(w http.ResponseWriter, r *http.Request) {
	if !s.activityEnabled(w) {
		return
	}
	limit, ok := queryLimit(r, maxActivityLimit)
	if !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	groups, err := s.activity.GroupAddresses(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing group activity", "error", err)
		writeInternalError(w, "failed to list group activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleActivityHistory returns recorded decoded values for one group address.
func (s *Server) handleActivityHistory(w http.ResponseWriter, r *http.Request) {
	if !s.activityEnabled(w) {
		return
	}
	ga, err := groupAddressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, ok := queryLimit(r, 100)
	if !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	history, err := s.activity.History(r.Context(), ga, limit)
	if err != nil {
		s.logger.Error("reading value history", "ga", ga.String(), "error", err)
		writeInternalError(w, "failed to read value history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": ga.String(),
		"history": history,
		"count":   len(history),
	})
}

// handleActivityDevices lists individual addresses that have sent telegrams.
func (s *Server) handleActivityDevices(w http.ResponseWriter, r *http.Request) {
	if !s.activityEnabled(w) {
		return
	}

	devices, err := s.activity.Devices(r.Context())
	if err != nil {
		s.logger.Error("listing device activity", "error", err)
		writeInternalError(w, "failed to list device activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
