package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
	JobCancelled  JobStatus = "cancelled"
)

// JobKind names the work a job performs.
type JobKind string

const (
	JobPDFExtraction JobKind = "pdf_extraction"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobCancelled, JobError},
	JobProcessing: {JobCompleted, JobError, JobCancelled},
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobError || s == JobCancelled
}

// CanTransition reports whether moving from s to next is a legal step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is a polled record of asynchronous work.
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	OwnerID   int64           `json:"owner_id"`
	ClassID   int64           `json:"class_id"`
	Status    JobStatus       `json:"status"`
	Progress  string          `json:"progress,omitempty"`
	Input     string          `json:"-"` // blob key or other kind-specific input
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PDFJobResult is stored on a completed PDF extraction job.
type PDFJobResult struct {
	SetID     int64 `json:"set_id"`
	Questions int   `json:"questions"`
	Truncated bool  `json:"truncated"`
}
