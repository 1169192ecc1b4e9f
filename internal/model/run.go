package model

import "time"

// RunKind identifies which batch importer produced an ImportRun.
type RunKind string

const (
	RunKindOrganisations RunKind = "organisations"
	RunKindCategories    RunKind = "categories"
	RunKindEmails        RunKind = "emails"
	RunKindGeocode       RunKind = "geocode"
)

// RunStatus represents the current state of an import run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusAborted  RunStatus = "aborted" // malformed input, batch rolled back
	RunStatusFailed   RunStatus = "failed"
)

// ImportRun records one batch invocation.
type ImportRun struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	Source      string     `json:"source"`
	Limit       int        `json:"limit"`
	Attempted   int        `json:"attempted"`
	Committed   int        `json:"committed"`
	Skipped     int        `json:"skipped"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
