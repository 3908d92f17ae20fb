package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/Abdul-AMA/bridgeai-backend/internal/crs"
	"github.com/Abdul-AMA/bridgeai-backend/internal/events"
	"github.com/Abdul-AMA/bridgeai-backend/internal/observability"
	"github.com/Abdul-AMA/bridgeai-backend/internal/store"
)

// Backend is the slice of the store the pipeline needs.
type Backend interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	PersistDocument(ctx context.Context, draft store.DocumentDraft) (store.Document, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	LinkSession(ctx context.Context, sessionID, documentID string) error
}

// Pipeline performs one generation attempt end-to-end and narrates progress
// on the event bus. Errors between context gathering and persistence
// propagate to the retry policy; the persistence backend rolls back its own
// transaction before an error surfaces.
type Pipeline struct {
	backend         Backend
	fillers         crs.Factory
	bus             *events.Bus
	metrics         *observability.Metrics
	partialInterval time.Duration
}

func NewPipeline(backend Backend, fillers crs.Factory, bus *events.Bus, metrics *observability.Metrics, partialInterval time.Duration) *Pipeline {
	if partialInterval <= 0 {
		partialInterval = 100 * time.Millisecond
	}
	return &Pipeline{
		backend:         backend,
		fillers:         fillers,
		bus:             bus,
		metrics:         metrics,
		partialInterval: partialInterval,
	}
}

func (p *Pipeline) publish(sessionID string, evt events.Event) {
	evt.Timestamp = time.Now().UTC()
	p.bus.Publish(sessionID, evt)
	p.metrics.ObserveEventPublished(string(evt.Type))
}

// Run executes one attempt for task. Cancellation is observed at each step
// boundary; a cancelled run returns ctx.Err() without persisting anything.
func (p *Pipeline) Run(ctx context.Context, task *Task) (Result, error) {
	sessionID := task.SessionID

	p.publish(sessionID, events.Event{
		Type:      events.TypeGenerationStarted,
		SessionID: sessionID,
		Pattern:   task.Pattern,
	})

	// Step 1: gather conversation history.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p.publish(sessionID, events.Event{
		Type:       events.TypeProgress,
		Step:       "gathering_context",
		Percentage: 10,
		Message:    "Gathering conversation context...",
	})

	msgs, err := p.backend.ListMessages(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("list messages: %w", err)
	}

	var (
		history    []string
		userInputs []string
	)
	for _, m := range msgs {
		if m.Sender == store.SenderUser {
			history = append(history, "User: "+m.Content)
			userInputs = append(userInputs, m.Content)
		} else {
			history = append(history, "AI: "+m.Content)
		}
	}
	if len(userInputs) == 0 {
		log.Printf("generator: no user inputs for session %s, skipping", sessionID)
		return Result{Skipped: true}, nil
	}

	// Step 2: initialize the document filler for the requested pattern.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p.publish(sessionID, events.Event{
		Type:       events.TypeProgress,
		Step:       "initializing",
		Percentage: 20,
		Message:    "Initializing CRS template...",
	})

	filler, err := p.fillers.Filler(task.Pattern)
	if err != nil {
		return Result{}, fmt.Errorf("construct filler: %w", err)
	}

	// Step 3: streaming extraction.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p.publish(sessionID, events.Event{
		Type:        events.TypeProgress,
		Step:        "extraction",
		Percentage:  30,
		Message:     "AI is writing the specification...",
		IsStreaming: true,
	})

	req := crs.FillRequest{
		UserInput: joinInputs(userInputs),
		History:   history,
		Existing:  p.existingDocument(ctx, sessionID),
	}

	stream, err := filler.FillStream(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("open fill stream: %w", err)
	}
	if err := p.drainStream(ctx, sessionID, stream); err != nil {
		stream.Close()
		return Result{}, err
	}
	stream.Close()

	// The streaming path optimizes for latency; one more non-streaming call
	// yields validated completeness metadata and field attribution.
	result, err := filler.Fill(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("final fill: %w", err)
	}

	// Step 4: summary.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p.publish(sessionID, events.Event{
		Type:           events.TypeProgress,
		Step:           "summary",
		Percentage:     75,
		Message:        "Generating summary...",
		SummaryPoints:  result.SummaryPoints,
		OverallSummary: result.OverallSummary,
	})

	// Step 5: completeness check.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	info := result.CompletenessInfo
	p.publish(sessionID, events.Event{
		Type:             events.TypeProgress,
		Step:             "completeness_check",
		Percentage:       85,
		Message:          "Checking completeness...",
		IsComplete:       events.Bool(result.IsComplete),
		CompletenessInfo: &info,
	})

	// Step 6: persist. Runs even for incomplete documents so the UI always
	// reflects the latest state.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p.publish(sessionID, events.Event{
		Type:       events.TypeProgress,
		Step:       "persisting",
		Percentage: 90,
		Message:    "Saving CRS document...",
	})

	doc, err := p.backend.PersistDocument(ctx, store.DocumentDraft{
		ProjectID:      task.ProjectID,
		CreatedBy:      task.UserID,
		Content:        result.Document.JSON(),
		SummaryPoints:  result.SummaryPoints,
		Pattern:        task.Pattern,
		FieldSources:   result.FieldSources,
		StoreEmbedding: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("persist document: %w", err)
	}

	if err := p.linkSession(ctx, sessionID, doc.ID); err != nil {
		return Result{}, err
	}

	log.Printf("generator: CRS document %s persisted for session %s (complete=%t)", doc.ID, sessionID, result.IsComplete)

	return Result{
		DocumentID:       doc.ID,
		Document:         result.Document,
		IsComplete:       result.IsComplete,
		CompletenessInfo: result.CompletenessInfo,
		SummaryPoints:    result.SummaryPoints,
		OverallSummary:   result.OverallSummary,
	}, nil
}

// drainStream publishes throttled partial snapshots: at most one per
// interval, always the most recent. Throttling never alters what gets
// persisted because the final content comes from the non-streaming call.
func (p *Pipeline) drainStream(ctx context.Context, sessionID string, stream crs.SnapshotStream) error {
	var lastEmit time.Time
	for {
		snap, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream extraction: %w", err)
		}

		now := time.Now()
		if now.Sub(lastEmit) < p.partialInterval {
			continue
		}
		lastEmit = now
		p.publish(sessionID, events.Event{
			Type:    events.TypePartial,
			Content: snap.JSON(),
		})
	}
}

// existingDocument loads previously persisted content for incremental
// refinement. Lookup failures fall back to a fresh extraction instead of
// failing the attempt.
func (p *Pipeline) existingDocument(ctx context.Context, sessionID string) crs.Document {
	sess, err := p.backend.GetSession(ctx, sessionID)
	if err != nil || sess.CRSDocumentID == "" {
		return nil
	}
	doc, err := p.backend.GetDocument(ctx, sess.CRSDocumentID)
	if err != nil {
		log.Printf("generator: linked document %s unavailable for session %s: %v", sess.CRSDocumentID, sessionID, err)
		return nil
	}
	return crs.ParseDocument(doc.Content)
}

// linkSession records the session→document association once. Sessions that
// already carry a linked document are left untouched.
func (p *Pipeline) linkSession(ctx context.Context, sessionID, documentID string) error {
	sess, err := p.backend.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session for linkage: %w", err)
	}
	if sess.CRSDocumentID != "" {
		return nil
	}
	if err := p.backend.LinkSession(ctx, sessionID, documentID); err != nil {
		return fmt.Errorf("link session: %w", err)
	}
	return nil
}

func joinInputs(inputs []string) string {
	out := ""
	for i, s := range inputs {
		if i > 0 {
			out += "\n\n"
		}
		out += s
	}
	return out
}
