// Package jobapi is the core-facing surface for submitting jobs, reading
// their status, streaming their progress, and canceling them. It is a thin
// wrapper over a broker.Backend: callers that embed this core directly
// (rather than fronting it with httpapi) use this package's types and
// validation without any HTTP concern.
package jobapi

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/broker"
	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/queue"
)

// Service is the core operation surface (spec.md §4.1, §4.2, §4.4): submit,
// read status, stream progress, and cancel.
type Service struct {
	backend broker.Backend
	dataDir string
	log     *zap.Logger
}

// New constructs a Service. dataDir is the configured data directory
// (config.Data.DataDir); Submit rejects a primary_file that does not
// resolve to a regular file under it rather than deferring the check to
// job execution.
func New(backend broker.Backend, dataDir string, log *zap.Logger) *Service {
	return &Service{backend: backend, dataDir: dataDir, log: log}
}

// SubmitRequest is the caller-supplied shape for a new job.
type SubmitRequest struct {
	ID          string `json:"id,omitempty"`
	Question    string `json:"question"`
	PrimaryFile string `json:"primary_file,omitempty"`
}

// Submit validates req and persists a new PENDING job. Supplying the same
// ID twice is idempotent: the second call returns the existing id without
// creating a duplicate job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", corerr.New(corerr.InputRejected, "question must not be empty")
	}
	if req.PrimaryFile != "" {
		if err := s.checkPrimaryFileExists(req.PrimaryFile); err != nil {
			return "", err
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	job := queue.NewJob(id, req.Question, req.PrimaryFile)
	return s.backend.Submit(ctx, job)
}

// checkPrimaryFileExists rejects a primary_file that does not resolve to a
// regular file under the configured data directory, one of spec.md §7's
// three concrete InputRejected triggers (alongside an empty question and an
// oversized file, the latter enforced by the Loader at read time since only
// a stat, not a parse, happens here).
func (s *Service) checkPrimaryFileExists(primaryFile string) error {
	path := filepath.Join(s.dataDir, filepath.FromSlash(primaryFile))
	if rel, err := filepath.Rel(s.dataDir, path); err != nil || strings.HasPrefix(rel, "..") {
		return corerr.New(corerr.InputRejected, "primary_file must stay within the data directory")
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return corerr.New(corerr.InputRejected, "unknown primary file: "+primaryFile)
	}
	return nil
}

// Status returns a single-shot snapshot of a job's record.
func (s *Service) Status(ctx context.Context, jobID string) (queue.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return queue.Job{}, corerr.New(corerr.InputRejected, "job id must not be empty")
	}
	return s.backend.Status(ctx, jobID)
}

// Stream returns a channel of progress events from fromSeq onward. The
// channel closes once a terminal event is delivered or ctx is canceled.
func (s *Service) Stream(ctx context.Context, jobID string, fromSeq int64) (<-chan queue.ProgressEvent, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, corerr.New(corerr.InputRejected, "job id must not be empty")
	}
	return s.backend.SubscribeProgress(ctx, jobID, fromSeq)
}

// Cancel raises an advisory cancellation flag the Orchestrator observes at
// its next boundary check; it does not guarantee the job stops immediately.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return corerr.New(corerr.InputRejected, "job id must not be empty")
	}
	s.log.Info("cancel requested", zap.String("job_id", jobID))
	return s.backend.Cancel(ctx, jobID)
}
