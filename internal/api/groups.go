package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// maxReadTimeout caps timeout_ms on group reads.
const maxReadTimeout = 30 * time.Second

// groupValueResponse is returned by group write and read.
type groupValueResponse struct {
	Address string `json:"address"`
	DPT     string `json:"dpt,omitempty"`
	Raw     string `json:"raw"`
	Value   any    `json:"value,omitempty"`
	Text    string `json:"text,omitempty"`
}

// groupAddressParam parses the URL-encoded {ga} path parameter.
func groupAddressParam(r *http.Request) (knx.GroupAddress, error) {
	return knx.ParseGroupAddressFromURL(chi.URLParam(r, "ga"))
}

// handleGroupWrite sends a GroupValue_Write. The body is the same command
// accepted on the MQTT write topic: {"value": ..., "dpt": ...} or {"raw": "0c1a"}.
func (s *Server) handleGroupWrite(w http.ResponseWriter, r *http.Request) {
	ga, err := groupAddressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var cmd gateway.CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	payload, bits, id, err := gateway.EncodeCommand(s.datapoints, ga, cmd)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := s.port.GroupValueWriteBits(r.Context(), ga, payload, bits); err != nil {
		writeBusError(w, err)
		return
	}

	resp := groupValueResponse{
		Address: ga.String(),
		Raw:     hex.EncodeToString(payload),
	}
	if id.Main != 0 {
		resp.DPT = id.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGroupRead sends a GroupValue_Read and waits for the response.
// Query parameters: timeout_ms, dpt (overrides the datapoint table).
func (s *Server) handleGroupRead(w http.ResponseWriter, r *http.Request) {
	ga, err := groupAddressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	timeout := s.readTimeout
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			writeBadRequest(w, "timeout_ms must be a positive integer")
			return
		}
		timeout = min(time.Duration(ms)*time.Millisecond, maxReadTimeout)
	}

	explicit := r.URL.Query().Get("dpt")
	id, err := s.datapoints.Resolve(ga, explicit)
	if err != nil && !errors.Is(err, gateway.ErrUnknownDatapoint) {
		writeBusError(w, err)
		return
	}

	payload, err := s.port.GroupValueRead(r.Context(), ga, timeout)
	if err != nil {
		writeBusError(w, err)
		return
	}

	resp := groupValueResponse{
		Address: ga.String(),
		Raw:     hex.EncodeToString(payload),
	}
	if id.Main != 0 {
		v, err := dpt.Decode(id.Family(), payload)
		if err != nil {
			writeBusError(w, err)
			return
		}
		resp.DPT = id.String()
		resp.Value = dpt.Native(v)
		resp.Text = v.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
