package crs

import (
	"context"
	"errors"
	"io"
	"testing"
)

const mockInput = "We need a booking portal for patients. The admin team must approve every booking. It should be fast and secure. The budget limit is fixed."

func TestMockFillerExtractsSections(t *testing.T) {
	f := NewMockFiller(PatternBABOK)
	res, err := f.Fill(context.Background(), FillRequest{UserInput: mockInput})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if res.Document == nil {
		t.Fatalf("Fill() returned nil document")
	}
	for _, section := range []string{"project_overview", "stakeholders", "functional_requirements", "non_functional_requirements", "constraints"} {
		if _, ok := res.Document[section]; !ok {
			t.Fatalf("document missing section %q: %v", section, res.Document)
		}
	}
	if len(res.SummaryPoints) == 0 {
		t.Fatalf("Fill() returned no summary points")
	}
	if res.OverallSummary == "" {
		t.Fatalf("Fill() returned empty overall summary")
	}
	if len(res.FieldSources) == 0 {
		t.Fatalf("Fill() returned no field sources")
	}
}

func TestMockFillerDeterministic(t *testing.T) {
	f := NewMockFiller(PatternBABOK)
	req := FillRequest{UserInput: mockInput}
	a, err := f.Fill(context.Background(), req)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	b, err := f.Fill(context.Background(), req)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if a.Document.JSON() != b.Document.JSON() {
		t.Fatalf("Fill() not deterministic:\n%s\n%s", a.Document.JSON(), b.Document.JSON())
	}
}

func TestMockFillerCompletenessReflectsGaps(t *testing.T) {
	f := NewMockFiller(PatternBABOK)
	res, err := f.Fill(context.Background(), FillRequest{UserInput: "Build a small internal wiki"})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if res.IsComplete {
		t.Fatalf("IsComplete = true for a one-line brief")
	}
	if len(res.CompletenessInfo.Missing) == 0 {
		t.Fatalf("CompletenessInfo.Missing is empty, want missing sections")
	}
	if res.CompletenessInfo.Score >= 1 {
		t.Fatalf("Score = %v, want < 1", res.CompletenessInfo.Score)
	}
}

func TestMockFillerStreamGrowsMonotonically(t *testing.T) {
	f := NewMockFiller(PatternBABOK)
	stream, err := f.FillStream(context.Background(), FillRequest{UserInput: mockInput})
	if err != nil {
		t.Fatalf("FillStream() error = %v", err)
	}
	defer stream.Close()

	prev := 0
	count := 0
	for {
		snap, err := stream.Recv(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if len(snap) < prev {
			t.Fatalf("snapshot shrank from %d to %d sections", prev, len(snap))
		}
		prev = len(snap)
		count++
	}
	if count < 2 {
		t.Fatalf("stream yielded %d snapshots, want several", count)
	}
}

func TestMockFillerStreamHonorsCancellation(t *testing.T) {
	f := NewMockFiller(PatternBABOK)
	stream, err := f.FillStream(context.Background(), FillRequest{UserInput: mockInput})
	if err != nil {
		t.Fatalf("FillStream() error = %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stream.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Recv(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestMockFillerCarriesExistingSections(t *testing.T) {
	f := NewMockFiller(PatternBABOK)
	res, err := f.Fill(context.Background(), FillRequest{
		UserInput: "Also add an audit log",
		Existing:  Document{"constraints": "Launch before Q3 due to the compliance deadline"},
	})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if res.Document["constraints"] != "Launch before Q3 due to the compliance deadline" {
		t.Fatalf("existing section lost: %v", res.Document["constraints"])
	}
}
