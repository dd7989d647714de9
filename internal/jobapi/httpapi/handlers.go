package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/jobapi"
)

var submitSchemaLoader = gojsonschema.NewStringLoader(submitRequestSchema)

// Handler adapts jobapi.Service to HTTP.
type Handler struct {
	svc    *jobapi.Service
	logger *zap.Logger
}

func NewHandler(svc *jobapi.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/jobs.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := readAndValidate(r, submitSchemaLoader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	id, err := h.svc.Submit(r.Context(), jobapi.SubmitRequest{
		ID:          req.ID,
		Question:    req.Question,
		PrimaryFile: req.PrimaryFile,
	})
	if err != nil {
		writeCoreError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id})
}

// Status handles GET /api/v1/jobs/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.svc.Status(r.Context(), id)
	if err != nil {
		writeCoreError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		ID:          job.ID,
		Question:    job.Question,
		State:       job.State,
		Attempts:    job.Attempts,
		Result:      job.Result,
		Error:       job.Error,
		SubmittedAt: job.SubmittedAt,
	})
}

// Stream handles GET /api/v1/jobs/{id}/stream, an SSE endpoint yielding
// progress events from an optional ?from_seq= cursor.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	fromSeq := int64(0)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fromSeq = n
		}
	}

	events, err := h.svc.Stream(r.Context(), id, fromSeq)
	if err != nil {
		writeCoreError(w, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// Cancel handles DELETE /api/v1/jobs/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeCoreError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "cancellation requested"})
}

func readAndValidate(r *http.Request, schemaLoader gojsonschema.JSONLoader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		return nil, fmt.Errorf("request failed schema validation: %v", result.Errors())
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeCoreError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind, ok := corerr.KindOf(err)
	if !ok {
		logger.Error("unclassified error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case corerr.InputRejected, corerr.UnsupportedFormat, corerr.FileTooLarge:
		status = http.StatusBadRequest
	case corerr.NotFound:
		status = http.StatusNotFound
	case corerr.Canceled:
		status = http.StatusConflict
	}
	writeError(w, status, string(kind), err.Error())
}
