package crs

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// MockFiller produces deterministic documents from keyword heuristics. It
// backs local development and tests so the service runs without an inference
// bridge.
type MockFiller struct {
	pattern string
}

func NewMockFiller(pattern string) *MockFiller {
	return &MockFiller{pattern: strings.ToLower(strings.TrimSpace(pattern))}
}

func patternSections(pattern string) []string {
	switch pattern {
	case PatternVolere:
		return []string{"purpose", "stakeholders", "functional_requirements", "look_and_feel", "operational_requirements", "fit_criteria"}
	case PatternIEEE:
		return []string{"introduction", "overall_description", "specific_requirements", "external_interfaces", "performance_requirements", "design_constraints"}
	default:
		return []string{"project_overview", "stakeholders", "functional_requirements", "non_functional_requirements", "constraints", "acceptance_criteria"}
	}
}

var sectionKeywords = map[string][]string{
	"stakeholders":                {"user", "customer", "client", "team", "admin", "stakeholder"},
	"functional_requirements":     {"must", "should", "need", "want", "require", "allow", "support"},
	"specific_requirements":       {"must", "should", "need", "want", "require", "allow", "support"},
	"non_functional_requirements": {"fast", "secure", "scalable", "reliable", "performance", "latency"},
	"performance_requirements":    {"fast", "scalable", "performance", "latency", "throughput"},
	"constraints":                 {"budget", "deadline", "only", "cannot", "limit", "compliance"},
	"design_constraints":          {"budget", "deadline", "only", "cannot", "limit", "compliance"},
	"acceptance_criteria":         {"done when", "accept", "verify", "test", "criteria"},
	"fit_criteria":                {"done when", "accept", "verify", "test", "criteria"},
}

func (f *MockFiller) buildDocument(req FillRequest) Document {
	doc := Document{}
	for _, section := range patternSections(f.pattern) {
		if req.Existing != nil {
			if prev, ok := req.Existing[section]; ok {
				doc[section] = prev
			}
		}
	}

	lower := strings.ToLower(req.UserInput)
	sentences := splitSentences(req.UserInput)
	sections := patternSections(f.pattern)

	// First section always carries the overall ask.
	if len(sentences) > 0 {
		doc[sections[0]] = strings.TrimSpace(sentences[0])
	}
	for _, section := range sections[1:] {
		keywords := sectionKeywords[section]
		for _, kw := range keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			var hits []string
			for _, s := range sentences {
				if strings.Contains(strings.ToLower(s), kw) {
					hits = append(hits, strings.TrimSpace(s))
				}
			}
			if len(hits) > 0 {
				doc[section] = strings.Join(hits, " ")
			}
			break
		}
	}
	return doc
}

func (f *MockFiller) FillStream(ctx context.Context, req FillRequest) (SnapshotStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	final := f.buildDocument(req)

	// Reveal sections one at a time so each snapshot is a fuller candidate
	// document, mimicking how a model streams a growing JSON object.
	var snapshots []Document
	partial := Document{}
	for _, section := range patternSections(f.pattern) {
		v, ok := final[section]
		if !ok {
			continue
		}
		partial[section] = v
		snap := Document{}
		for k, val := range partial {
			snap[k] = val
		}
		snapshots = append(snapshots, snap)
	}
	if len(snapshots) == 0 {
		snapshots = append(snapshots, Document{})
	}
	return &sliceStream{snapshots: snapshots}, nil
}

func (f *MockFiller) Fill(ctx context.Context, req FillRequest) (FillResult, error) {
	if err := ctx.Err(); err != nil {
		return FillResult{}, err
	}
	doc := f.buildDocument(req)
	sections := patternSections(f.pattern)

	info := CompletenessInfo{Filled: []string{}, Weak: []string{}, Missing: []string{}}
	for _, section := range sections {
		v, ok := doc[section]
		if !ok {
			info.Missing = append(info.Missing, section)
			continue
		}
		if s, isStr := v.(string); isStr && len(strings.Fields(s)) < 4 {
			info.Weak = append(info.Weak, section)
			continue
		}
		info.Filled = append(info.Filled, section)
	}
	info.Score = float64(len(info.Filled)) / float64(len(sections))

	points := make([]string, 0, len(info.Filled))
	sources := make(map[string]string, len(doc))
	for _, section := range sections {
		v, ok := doc[section]
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr {
			points = append(points, fmt.Sprintf("%s: %s", section, firstWords(s, 12)))
			sources[section] = firstWords(s, 8)
		}
	}

	return FillResult{
		Document:         doc,
		IsComplete:       len(info.Missing) == 0 && len(info.Weak) == 0,
		CompletenessInfo: info,
		SummaryPoints:    points,
		OverallSummary:   fmt.Sprintf("Captured %d of %d %s sections from the conversation.", len(info.Filled)+len(info.Weak), len(sections), f.pattern),
		FieldSources:     sources,
	}, nil
}

type sliceStream struct {
	snapshots []Document
	next      int
}

func (s *sliceStream) Recv(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.snapshots) {
		return nil, io.EOF
	}
	snap := s.snapshots[s.next]
	s.next++
	return snap, nil
}

func (s *sliceStream) Close() error {
	s.next = len(s.snapshots)
	return nil
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := fields[:0]
	for _, s := range fields {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}
