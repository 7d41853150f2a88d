package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/nerrad567/knx-access/internal/commissioning/etsimport"
	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

type datapointRequest struct {
	DPT  string `json:"dpt"`
	Name string `json:"name"`
}

func (s *Server) handleListDatapoints(w http.ResponseWriter, _ *http.Request) {
	points := s.datapoints.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"datapoints": points,
		"count":      len(points),
	})
}

// handlePutDatapoint creates or replaces the DPT mapping of a group address.
// Changes are not written back to the configuration file.
func (s *Server) handlePutDatapoint(w http.ResponseWriter, r *http.Request) {
	ga, err := groupAddressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req datapointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	id, err := dpt.ParseID(req.DPT)
	if err != nil {
		writeBusError(w, err)
		return
	}

	d := gateway.Datapoint{Address: ga, DPT: id, Name: req.Name}
	s.datapoints.Set(d)
	s.logger.Info("datapoint updated", "ga", ga.String(), "dpt", id.String(), "name", req.Name)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDatapoint(w http.ResponseWriter, r *http.Request) {
	ga, err := groupAddressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.datapoints.Remove(ga) {
		writeNotFound(w, "no datapoint for "+ga.String())
		return
	}
	s.logger.Info("datapoint removed", "ga", ga.String())
	w.WriteHeader(http.StatusNoContent)
}

type importResponse struct {
	SourceFile string              `json:"source_file,omitempty"`
	Format     string              `json:"format"`
	Imported   int                 `json:"imported"`
	Skipped    int                 `json:"skipped"`
	Warnings   []etsimport.Warning `json:"warnings"`
}

// multipartMemory is how much of a multipart upload is held in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// handleImportDatapoints loads the group addresses of an ETS export into the
// registry. Imported entries replace existing mappings of the same address.
//
// Request: multipart/form-data with a "file" field, or the raw file as the
// body with an optional filename query parameter. Without a filename the
// format is detected from the content.
func (s *Server) handleImportDatapoints(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readImportFile(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, etsimport.ErrFileTooLarge.Error())
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	result, err := etsimport.NewParser().ParseBytes(data, filename)
	if err != nil {
		s.logger.Warn("datapoint import failed", "file", filename, "error", err)
		writeImportError(w, err)
		return
	}

	for _, a := range result.Addresses {
		if a.HasDPT() {
			s.datapoints.Set(gateway.Datapoint{Address: a.Address, DPT: a.DPT, Name: a.Name})
		}
	}

	resp := importResponse{
		SourceFile: result.SourceFile,
		Format:     result.Format,
		Imported:   result.Typed(),
		Skipped:    len(result.Addresses) - result.Typed(),
		Warnings:   result.Warnings,
	}
	if resp.Warnings == nil {
		resp.Warnings = []etsimport.Warning{}
	}
	s.logger.Info("datapoints imported",
		"file", result.SourceFile,
		"format", result.Format,
		"imported", resp.Imported,
		"skipped", resp.Skipped,
		"warnings", len(result.Warnings),
	)
	writeJSON(w, http.StatusOK, resp)
}

// readImportFile returns the uploaded file content and its name.
func readImportFile(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", fmt.Errorf("reading request body: %w", err)
		}
		return data, r.URL.Query().Get("filename"), nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", fmt.Errorf("parsing multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("missing required 'file' field in form data")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("reading uploaded file: %w", err)
	}
	return data, header.Filename, nil
}

func writeImportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, etsimport.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, err.Error())
	case errors.Is(err, etsimport.ErrNoGroupAddresses):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, etsimport.ErrInvalidFile), errors.Is(err, etsimport.ErrCorruptArchive):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
