// Package queue defines the wire-shape records the Broker persists: jobs,
// progress events and leases. These are plain data types; the Broker
// interface that moves them lives in internal/broker.
package queue

import (
	"encoding/json"
	"time"
)

// State is a Job's position in its lifecycle. Terminal states are absorbing.
type State string

const (
	Pending   State = "PENDING"
	Reserved  State = "RESERVED"
	Running   State = "RUNNING"
	Succeeded State = "SUCCEEDED"
	Failed    State = "FAILED"
	Canceled  State = "CANCELED"
)

// Terminal reports whether s is one of the absorbing states.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Canceled
}

// JobError is the {kind, message} pair recorded on a FAILED job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is a submitted unit of work (spec §3).
type Job struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	PrimaryFile    string    `json:"primary_file,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	State          State     `json:"state"`
	Attempts       int       `json:"attempts"`
	Result         string    `json:"result,omitempty"`
	Error          *JobError `json:"error,omitempty"`
	ProgressCursor int64     `json:"progress_cursor"`
	TraceID        string    `json:"trace_id,omitempty"`
	SpanID         string    `json:"span_id,omitempty"`
}

// NewJob constructs a fresh PENDING job record. Callers that need an
// idempotent submit supply id themselves (spec §4.1).
func NewJob(id, question, primaryFile string) Job {
	return Job{
		ID:          id,
		Question:    question,
		PrimaryFile: primaryFile,
		SubmittedAt: time.Now().UTC(),
		State:       Pending,
		Attempts:    0,
	}
}

// Phase enumerates a ProgressEvent's stage (spec §3).
type Phase string

const (
	PhaseQueued         Phase = "queued"
	PhaseLoadingContext Phase = "loading-context"
	PhasePrompting      Phase = "prompting"
	PhaseGeneratingCode Phase = "generating-code"
	PhaseExecutingCode  Phase = "executing-code"
	PhaseSummarizing    Phase = "summarizing"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// Terminal reports whether p ends a job's progress stream.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ProgressEvent is one ordered entry in a job's progress stream (spec §3, §6).
type ProgressEvent struct {
	Seq           int64     `json:"seq"`
	At            time.Time `json:"at"`
	Phase         Phase     `json:"phase"`
	Detail        string    `json:"detail"`
	PartialOutput string    `json:"partial_output,omitempty"`
}

// Lease is a worker's time-bounded exclusive hold on a reserved job.
type Lease struct {
	JobID   string    `json:"job_id"`
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

func (j Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalJob parses a Job record previously produced by Marshal.
func UnmarshalJob(s string) (Job, error) {
	var j Job
	err := json.Unmarshal([]byte(s), &j)
	return j, err
}

func (e ProgressEvent) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalProgressEvent parses a ProgressEvent previously produced by Marshal.
func UnmarshalProgressEvent(s string) (ProgressEvent, error) {
	var e ProgressEvent
	err := json.Unmarshal([]byte(s), &e)
	return e, err
}
