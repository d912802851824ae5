package models

import "time"

// Run is the persisted summary of one batch invocation.
type Run struct {
	ID          string     `json:"id"`
	BasePath    string     `json:"base_path"`
	Concurrency int        `json:"concurrency"`
	Stub        bool       `json:"stub"`
	Cancelled   bool       `json:"cancelled"`
	Counts      Counts     `json:"counts"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the run recorded an end time.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}
