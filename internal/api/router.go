package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/knx"
)

// healthCheckTimeout bounds the port probe behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		// Codec only, no bus traffic
		r.Post("/dpt/encode", s.handleEncode)
		r.Post("/dpt/decode", s.handleDecode)

		// Group addresses are URL-encoded: /groups/1%2F2%2F3/read
		r.Route("/groups/{ga}", func(r chi.Router) {
			r.Post("/write", s.handleGroupWrite)
			r.Get("/read", s.handleGroupRead)
		})

		r.Route("/datapoints", func(r chi.Router) {
			r.Get("/", s.handleListDatapoints)
			r.Post("/import", s.handleImportDatapoints)
			r.Put("/{ga}", s.handlePutDatapoint)
			r.Delete("/{ga}", s.handleDeleteDatapoint)
		})

		r.Route("/activity", func(r chi.Router) {
			r.Get("/groups", s.handleActivityGroups)
			r.Get("/groups/{ga}/history", s.handleActivityHistory)
			r.Get("/devices", s.handleActivityDevices)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports whether the access port has a usable transport.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.port.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"version": s.version,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// portStats is the JSON view of knx.PortStats.
type portStats struct {
	Open            bool      `json:"open"`
	FramesRx        uint64    `json:"frames_rx"`
	FramesTx        uint64    `json:"frames_tx"`
	Malformed       uint64    `json:"malformed"`
	Ignored         uint64    `json:"ignored"`
	InboundDropped  uint64    `json:"inbound_dropped"`
	ObserverDropped uint64    `json:"observer_dropped"`
	EventsDropped   uint64    `json:"events_dropped"`
	SendErrors      uint64    `json:"send_errors"`
	ReadsIssued     uint64    `json:"reads_issued"`
	ReadsAnswered   uint64    `json:"reads_answered"`
	ReadTimeouts    uint64    `json:"read_timeouts"`
	LateResponses   uint64    `json:"late_responses"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
}

func newPortStats(st knx.PortStats) portStats {
	return portStats{
		Open:            st.Open,
		FramesRx:        st.FramesRx,
		FramesTx:        st.FramesTx,
		Malformed:       st.Malformed,
		Ignored:         st.Ignored,
		InboundDropped:  st.InboundDropped,
		ObserverDropped: st.ObserverDropped,
		EventsDropped:   st.EventsDropped,
		SendErrors:      st.SendErrors,
		ReadsIssued:     st.ReadsIssued,
		ReadsAnswered:   st.ReadsAnswered,
		ReadTimeouts:    st.ReadTimeouts,
		LateResponses:   st.LateResponses,
		LastActivity:    st.LastActivity,
	}
}

type statsResponse struct {
	Port             portStats      `json:"port"`
	Gateway          *gateway.Stats `json:"gateway,omitempty"`
	Datapoints       int            `json:"datapoints"`
	WebSocketClients int            `json:"websocket_clients"`
}

// handleStats returns access port, gateway and hub counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Port:             newPortStats(s.port.Stats()),
		Datapoints:       s.datapoints.Len(),
		WebSocketClients: s.hub.ClientCount(),
	}
	if s.gateway != nil {
		st := s.gateway.Stats()
		resp.Gateway = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
