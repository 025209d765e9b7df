// Package jobs tracks the lifecycle of asynchronous ingestion tasks and
// repairs jobs left behind by crashed workers.
package jobs

import (
	"time"
)

// Status is the lifecycle state of a job run.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// MaxJobTypeLen bounds the free-text job type category.
const MaxJobTypeLen = 64

// Run is one tracked execution of an ingestion task. Rows are never deleted;
// failures accumulate in Error rather than overwriting each other.
type Run struct {
	ID         string         `json:"id"`
	JobType    string         `json:"job_type"`
	Params     map[string]any `json:"params,omitempty"`
	Status     Status         `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	Status  Status
	JobType string
	Limit   int
	Offset  int
}
