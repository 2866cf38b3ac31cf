package bridge

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/wagiedev/mcp-http-bridge/internal/errors"
	"github.com/wagiedev/mcp-http-bridge/internal/metrics"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// handleMCP forwards one JSON-RPC message to the backend and relays its answer.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r.Context(), s.log)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes))
	if err != nil {
		if tooLarge, ok := stderrors.AsType[*http.MaxBytesError](err); ok {
			s.metrics.RecordRejected(metrics.ReasonTooLarge)
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))

			return
		}

		log.Warn("Failed to read request body", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))

		return
	}

	if !utf8.Valid(body) {
		log.Debug("Rejecting request that is not valid UTF-8")
		s.metrics.RecordRejected(metrics.ReasonInvalidJSON)
		writeError(w, http.StatusBadRequest, "Invalid JSON: body is not valid UTF-8")

		return
	}

	var request bytes.Buffer
	if err := json.Compact(&request, body); err != nil {
		log.Debug("Rejecting invalid JSON request", "error", err)
		s.metrics.RecordRejected(metrics.ReasonInvalidJSON)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))

		return
	}

	log.Debug("Forwarding request to backend", "bytes", request.Len())

	response, err := s.exchanger.Exchange(r.Context(), request.Bytes())
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := stderrors.AsType[*errors.TimeoutError](err); ok {
			status = http.StatusGatewayTimeout
		}

		log.Error("MCP communication error", "error", err)
		writeError(w, status, fmt.Sprintf("MCP communication error: %v", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(response); err != nil {
		log.Debug("Failed to write response to caller", "error", err)
	}
}

// handleHealth reports liveness of the bridge itself. The backend is not consulted.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
