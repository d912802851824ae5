package models

import "time"

// Counts tallies outcomes by status.
type Counts struct {
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// Total returns the number of outcomes counted.
func (c Counts) Total() int {
	return c.Skipped + c.Succeeded + c.Failed + c.Abandoned
}

// Report is the ordered result of a batch run, one outcome per session in
// input order.
type Report struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Counts tallies the report's outcomes by status.
func (r *Report) Counts() Counts {
	var c Counts
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSkipped:
			c.Skipped++
		case StatusSucceeded:
			c.Succeeded++
		case StatusFailed:
			c.Failed++
		case StatusAbandoned:
			c.Abandoned++
		}
	}
	return c
}

// OK reports whether no session failed or was abandoned.
func (r *Report) OK() bool {
	c := r.Counts()
	return c.Failed == 0 && c.Abandoned == 0
}
