package httpapi

import (
	"time"

	"github.com/insightqueue/insightqueue/internal/queue"
)

// SubmitRequest is the wire shape POSTed to /api/v1/jobs.
type SubmitRequest struct {
	ID          string `json:"id,omitempty"`
	Question    string `json:"question"`
	PrimaryFile string `json:"primary_file,omitempty"`
}

// SubmitResponse acknowledges a successful submission.
type SubmitResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse mirrors a queue.Job for external consumers.
type StatusResponse struct {
	ID          string          `json:"id"`
	Question    string          `json:"question"`
	State       queue.State     `json:"state"`
	Attempts    int             `json:"attempts"`
	Result      string          `json:"result,omitempty"`
	Error       *queue.JobError `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// ErrorResponse is the uniform error envelope across every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse is the uniform envelope for operations with no payload.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

const submitRequestSchema = `{
  "type": "object",
  "required": ["question"],
  "properties": {
    "id": {"type": "string"},
    "question": {"type": "string", "minLength": 1},
    "primary_file": {"type": "string"}
  }
}`
