package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ImportRun is the ledger record of one feed import.
type ImportRun struct {
	ID           int64           `json:"id" db:"id"`
	FeedID       string          `json:"feed_id" db:"feed_id"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at" db:"finished_at"`
	Status       RunStatus       `json:"status" db:"status"`
	Parsed       int             `json:"parsed" db:"parsed"`
	Imported     int             `json:"imported" db:"imported"`
	Updated      int             `json:"updated" db:"updated"`
	Failed       int             `json:"failed" db:"failed"`
	ParseErrors  int             `json:"parse_errors" db:"parse_errors"`
	ErrorMessage string          `json:"error_message" db:"error_message"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"`
}

// ImportResult is the summary handed back to the caller of one import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`

	Parsed      int      `json:"parsed"`
	ParseErrors []string `json:"parse_errors"`
	// Aborted is set when the feed stream ended before the document did.
	Aborted   bool `json:"aborted"`
	Cancelled bool `json:"cancelled"`
}

// Processed is the number of offers that went through reconciliation.
func (r *ImportResult) Processed() int {
	return r.Imported + r.Updated + r.Failed
}

// Status maps the result onto a run status.
func (r *ImportResult) Status() RunStatus {
	switch {
	case r.Cancelled:
		return RunStatusCancelled
	case r.Aborted || r.Failed > 0:
		return RunStatusPartial
	default:
		return RunStatusCompleted
	}
}
