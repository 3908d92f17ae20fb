package generator

import (
	"time"

	"github.com/Abdul-AMA/bridgeai-backend/internal/crs"
)

// Status tracks background CRS generation for one session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Task describes one queued generation request. Owned by the scheduler until
// handed to its execution goroutine; never shared further.
type Task struct {
	SessionID string
	ProjectID string
	UserID    string
	Pattern   string
	// RetryCount is bumped to attempt+1 on every failed attempt; the final
	// error event reports the number of failed attempts observed.
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time
}

// Result is the outcome of one successful pipeline run.
type Result struct {
	// Skipped marks the quiet exit for a session with no user-authored
	// messages: nothing persisted, no completion event, status back to idle.
	Skipped bool

	DocumentID       string
	Document         crs.Document
	IsComplete       bool
	CompletenessInfo crs.CompletenessInfo
	SummaryPoints    []string
	OverallSummary   string
}
