package crs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Known document patterns. A pattern names the template the filler must
// conform to; pattern-specific sections live in the filler backend.
const (
	PatternBABOK  = "babok"
	PatternVolere = "volere"
	PatternIEEE   = "ieee830"
)

var ErrUnknownPattern = errors.New("unknown document pattern")

// KnownPattern reports whether pattern names a supported template.
func KnownPattern(pattern string) bool {
	switch strings.ToLower(strings.TrimSpace(pattern)) {
	case PatternBABOK, PatternVolere, PatternIEEE:
		return true
	default:
		return false
	}
}

// Document is one CRS snapshot: a nested JSON-like structure whose top-level
// keys are template sections.
type Document map[string]any

// JSON renders the document as a compact JSON string for wire payloads and
// persistence. A nil document renders as an empty object.
func (d Document) JSON() string {
	if d == nil {
		return "{}"
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseDocument parses previously persisted document content. Malformed
// content yields a nil document rather than an error so stale rows cannot
// wedge a regeneration.
func ParseDocument(content string) Document {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var d Document
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil
	}
	return d
}

// FillRequest carries everything a filler needs for one extraction pass.
type FillRequest struct {
	UserInput string   `json:"user_input"`
	History   []string `json:"conversation_history,omitempty"`
	// Existing holds previously persisted document content, if any, so the
	// filler can refine incrementally instead of starting from scratch.
	Existing Document `json:"extracted_fields,omitempty"`
}

// CompletenessInfo describes which template sections are covered.
type CompletenessInfo struct {
	Filled  []string `json:"filled_fields"`
	Weak    []string `json:"weak_fields"`
	Missing []string `json:"missing_fields"`
	Score   float64  `json:"score"`
}

// FillResult is the authoritative output of a non-streaming fill.
type FillResult struct {
	Document         Document          `json:"crs_template"`
	IsComplete       bool              `json:"is_complete"`
	CompletenessInfo CompletenessInfo  `json:"completeness_info"`
	SummaryPoints    []string          `json:"summary_points"`
	OverallSummary   string            `json:"overall_summary"`
	FieldSources     map[string]string `json:"field_sources,omitempty"`
}

// SnapshotStream yields successive full-document snapshots. Each snapshot is
// a candidate complete document, not a diff. Recv returns io.EOF when the
// stream is exhausted and the context error if ctx is done.
type SnapshotStream interface {
	Recv(ctx context.Context) (Document, error)
	Close() error
}

// Filler extracts structured requirements from conversation text. The
// streaming mode optimizes for low-latency partial snapshots; Fill performs
// one validated pass that also produces completeness metadata and
// field-source attribution.
type Filler interface {
	FillStream(ctx context.Context, req FillRequest) (SnapshotStream, error)
	Fill(ctx context.Context, req FillRequest) (FillResult, error)
}

// Factory builds a Filler bound to a document pattern.
type Factory interface {
	Filler(pattern string) (Filler, error)
}

// Config controls factory construction.
type Config struct {
	Mode    string
	HTTPURL string
}

type factory struct {
	mode    string
	httpURL string
}

// NewFactory selects the filler backend. Mode auto prefers the HTTP bridge
// when a URL is configured and falls back to the deterministic mock.
func NewFactory(cfg Config) (Factory, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return &factory{mode: "http", httpURL: strings.TrimSpace(cfg.HTTPURL)}, nil
		}
		return &factory{mode: "mock"}, nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("filler HTTP url is required for http mode")
		}
		return &factory{mode: "http", httpURL: strings.TrimSpace(cfg.HTTPURL)}, nil
	case "mock":
		return &factory{mode: "mock"}, nil
	default:
		return nil, fmt.Errorf("unsupported filler mode %q", cfg.Mode)
	}
}

func (f *factory) Filler(pattern string) (Filler, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if !KnownPattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, pattern)
	}
	if f.mode == "http" {
		return NewHTTPFiller(f.httpURL, pattern), nil
	}
	return NewMockFiller(pattern), nil
}
