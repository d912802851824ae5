package models

import "time"

// Status represents the result of one session in a batch run.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Outcome records what happened to a single session.
type Outcome struct {
	SessionID  string        `json:"session_id"`
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	Duration   time.Duration `json:"duration,omitempty"`

	// Err classifies a non-succeeded outcome for errors.Is and errors.As.
	// It is not persisted; Reason carries its text.
	Err error `json:"-"`
}
