package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

type encodeRequest struct {
	DPT   string `json:"dpt"`
	Value any    `json:"value"`
}

type decodeRequest struct {
	DPT string `json:"dpt"`
	Raw string `json:"raw"`
}

// valueResponse describes one payload in both wire and native form.
type valueResponse struct {
	DPT   string `json:"dpt"`
	Unit  string `json:"unit,omitempty"`
	Bits  int    `json:"bits"`
	Raw   string `json:"raw"`
	Value any    `json:"value"`
	Text  string `json:"text"`
}

func newValueResponse(id dpt.ID, v dpt.Value, raw []byte) valueResponse {
	return valueResponse{
		DPT:   id.String(),
		Unit:  id.Unit(),
		Bits:  id.Family().Bits(),
		Raw:   hex.EncodeToString(raw),
		Value: dpt.Native(v),
		Text:  v.String(),
	}
}

// handleEncode converts a native value into its KNX payload.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DPT == "" {
		writeBadRequest(w, "dpt is required")
		return
	}

	id, err := dpt.ParseID(req.DPT)
	if err != nil {
		writeBusError(w, err)
		return
	}
	v, err := dpt.FromNative(id.Family(), req.Value)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newValueResponse(id, v, v.Encode()))
}

// handleDecode converts a hex KNX payload into its native value.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DPT == "" {
		writeBadRequest(w, "dpt is required")
		return
	}

	id, err := dpt.ParseID(req.DPT)
	if err != nil {
		writeBusError(w, err)
		return
	}
	payload, err := gateway.ParseRaw(req.Raw)
	if err != nil {
		writeBusError(w, err)
		return
	}
	v, err := dpt.Decode(id.Family(), payload)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newValueResponse(id, v, payload))
}
