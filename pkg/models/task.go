package models

import "time"

// Status is the lifecycle state of a processing task. Transitions only move
// forward: pending -> processing -> completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of asynchronous processing work tied to one uploaded file.
// The registry is the sole owner of task records; everything else receives
// copies and must never mutate them directly.
type Task struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	Filename         string     `json:"filename"`
	DocumentType     string     `json:"document_type"`
	UserID           string     `json:"user_id,omitempty"`
	Authenticated    bool       `json:"authenticated"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProcessingTime   float64    `json:"processing_time,omitempty"`
	ResultFile       string     `json:"result_file,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Warnings         []string   `json:"warnings,omitempty"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
}
