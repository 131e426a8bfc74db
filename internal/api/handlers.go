package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
)

// JobResponse is a job from the last snapshot with its display class
type JobResponse struct {
	jobs.Job
	ShortID  string     `json:"short_id"`
	Class    jobs.Class `json:"class"`
	Terminal bool       `json:"terminal"`
}

// ListJobsResponse is the body of GET /jobs
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	source SnapshotSource
}

func (*handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	if _, ok := h.source.Snapshot(); !ok {
		writeErrorResponse(w, "no successful poll yet", http.StatusServiceUnavailable)
		return
	}
	writeJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (h *handlers) listJobs(w http.ResponseWriter, _ *http.Request) {
	list, ok := h.source.Snapshot()
	if !ok {
		writeErrorResponse(w, "no successful poll yet", http.StatusServiceUnavailable)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(list)), Total: len(list)}
	for _, j := range list {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSONResponse(w, resp, http.StatusOK)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := urlParam(r, "jobID")
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, _ := h.source.Snapshot()
	for _, j := range list {
		if j.ID == jobID {
			writeJSONResponse(w, newJobResponse(j), http.StatusOK)
			return
		}
	}
	writeErrorResponse(w, fmt.Sprintf("job %s not found", jobID), http.StatusNotFound)
}

func newJobResponse(j jobs.Job) JobResponse {
	return JobResponse{
		Job:      j,
		ShortID:  j.ShortID(),
		Class:    jobs.Classify(j.Status),
		Terminal: j.Status.IsTerminal(),
	}
}

// urlParam extracts and decodes a route parameter, rejecting empty values
// and values containing whitespace
func urlParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", name)
	}
	return decoded, nil
}

func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("Failed to encode response", zap.Error(err))
	}
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
