package events

import (
	"time"

	"github.com/Abdul-AMA/bridgeai-backend/internal/crs"
)

type Type string

const (
	TypeGenerationStarted Type = "crs_generation_started"
	TypeProgress          Type = "crs_progress"
	TypePartial           Type = "crs_partial"
	TypeRetry             Type = "crs_retry"
	TypeError             Type = "crs_error"
	TypeComplete          Type = "crs_complete"
	TypeUpdated           Type = "crs_updated"
)

// Event is the wire payload fanned out to session subscribers. Field names
// are the contract the UI and socket transports key on; consumers receive
// events verbatim.
type Event struct {
	Type             Type                  `json:"type"`
	SessionID        string                `json:"session_id,omitempty"`
	Pattern          string                `json:"pattern,omitempty"`
	Step             string                `json:"step,omitempty"`
	Percentage       int                   `json:"percentage,omitempty"`
	Message          string                `json:"message,omitempty"`
	IsStreaming      bool                  `json:"is_streaming,omitempty"`
	Content          string                `json:"content,omitempty"`
	Attempt          int                   `json:"attempt,omitempty"`
	MaxAttempts      int                   `json:"max_attempts,omitempty"`
	WaitTime         float64               `json:"wait_time,omitempty"`
	Error            string                `json:"error,omitempty"`
	RetryCount       int                   `json:"retry_count,omitempty"`
	IsComplete       *bool                 `json:"is_complete,omitempty"`
	SummaryPoints    []string              `json:"summary_points,omitempty"`
	OverallSummary   string                `json:"overall_summary,omitempty"`
	CompletenessInfo *crs.CompletenessInfo `json:"completeness_info,omitempty"`
	CRSTemplate      string                `json:"crs_template,omitempty"`
	CRSDocumentID    string                `json:"crs_document_id,omitempty"`
	Timestamp        time.Time             `json:"timestamp"`
}

// Bool adapts a flag for the optional is_complete field.
func Bool(v bool) *bool {
	return &v
}
