package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the job state machine:
// queued -> running -> {succeeded|failed|cancelled}, plus queued -> cancelled.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch next {
	case StatusRunning:
		return s == StatusQueued
	case StatusSucceeded, StatusFailed:
		return s == StatusRunning
	case StatusCancelled:
		return s == StatusQueued || s == StatusRunning
	}
	return false
}

// JobError is the recorded outcome of a failed job. Detail carries the
// diagnostic trace and stays server-side; callers only see Message.
type JobError struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Job struct {
	ID              uuid.UUID       `json:"id"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	Step            string          `json:"step,omitempty"`
	Input           json.RawMessage `json:"input"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *JobError       `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// ElapsedSeconds is derived: time since start while running, final duration
// once terminal, zero before the job has started.
func (j *Job) ElapsedSeconds(now time.Time) float64 {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	d := end.Sub(*j.StartedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
