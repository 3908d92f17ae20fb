package generator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Abdul-AMA/bridgeai-backend/internal/events"
	"github.com/Abdul-AMA/bridgeai-backend/internal/observability"
)

// Config controls scheduler defaults.
type Config struct {
	MaxRetries    int
	BackoffBase   time.Duration
	QueueCapacity int
}

type taskHandle struct {
	task   *Task
	cancel context.CancelFunc
}

// Scheduler serializes CRS generation per session: a single worker loop
// drains an admission queue and runs each task as its own goroutine, with at
// most one in-flight generation per session. Construct one per process and
// pass the handle around; there is no package-level instance.
type Scheduler struct {
	pipeline    *Pipeline
	bus         *events.Bus
	metrics     *observability.Metrics
	maxRetries  int
	backoffBase time.Duration

	tasks chan *Task
	wg    sync.WaitGroup

	mu         sync.Mutex
	queued     map[string]struct{}
	processing map[string]struct{}
	status     map[string]Status
	active     map[string]*taskHandle
}

func NewScheduler(pipeline *Pipeline, bus *events.Bus, metrics *observability.Metrics, cfg Config) *Scheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	return &Scheduler{
		pipeline:    pipeline,
		bus:         bus,
		metrics:     metrics,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		tasks:       make(chan *Task, cfg.QueueCapacity),
		queued:      make(map[string]struct{}),
		processing:  make(map[string]struct{}),
		status:      make(map[string]Status),
		active:      make(map[string]*taskHandle),
	}
}

func (s *Scheduler) publish(sessionID string, evt events.Event) {
	evt.Timestamp = time.Now().UTC()
	s.bus.Publish(sessionID, evt)
	s.metrics.ObserveEventPublished(string(evt.Type))
}

// QueueGeneration admits one generation task. Returns false when the session
// already has a queued or in-flight generation (the at-most-one-per-session
// invariant, enforced at admission) or when the queue is saturated.
func (s *Scheduler) QueueGeneration(sessionID, projectID, userID, pattern string, maxRetries int) bool {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false
	}
	if maxRetries <= 0 {
		maxRetries = s.maxRetries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.processing[sessionID]; busy {
		return false
	}
	if _, waiting := s.queued[sessionID]; waiting {
		return false
	}

	task := &Task{
		SessionID:  sessionID,
		ProjectID:  projectID,
		UserID:     userID,
		Pattern:    pattern,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	select {
	case s.tasks <- task:
	default:
		log.Printf("generator: queue full, rejecting generation for session %s", sessionID)
		return false
	}

	s.queued[sessionID] = struct{}{}
	s.status[sessionID] = StatusQueued
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(len(s.queued)))
	}
	log.Printf("generator: queued CRS generation for session %s (pattern=%s)", sessionID, pattern)
	return true
}

// Run is the worker loop. Start it once at process startup; it drains the
// admission queue until ctx is cancelled. Each task executes in its own
// goroutine so one session's generation never delays another session, while
// the admission guard keeps any single session strictly sequential.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("generator: worker started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("generator: worker stopping")
			return
		case task := <-s.tasks:
			s.dispatch(ctx, task)
		}
	}
}

// Wait blocks until all in-flight generations have unwound. Call after
// cancelling the Run context during shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, task *Task) {
	// A malformed task must never kill the worker loop.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("generator: worker error: %v", r)
			time.Sleep(time.Second)
		}
	}()

	s.mu.Lock()
	delete(s.queued, task.SessionID)
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(len(s.queued)))
	}
	// The admission guard makes this impossible, but a duplicate would break
	// the per-session invariant, so it is re-checked before launch.
	if _, busy := s.processing[task.SessionID]; busy {
		s.mu.Unlock()
		log.Printf("generator: session %s already processing, skipping duplicate task", task.SessionID)
		return
	}
	s.processing[task.SessionID] = struct{}{}
	s.status[task.SessionID] = StatusGenerating

	taskCtx, cancel := context.WithCancel(ctx)
	handle := &taskHandle{task: task, cancel: cancel}
	s.active[task.SessionID] = handle
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveGenerations.Inc()
	}
	s.wg.Add(1)
	go s.execute(taskCtx, handle)
}

func (s *Scheduler) execute(ctx context.Context, handle *taskHandle) {
	task := handle.task
	start := time.Now()
	defer s.wg.Done()
	defer handle.cancel()
	defer func() {
		if s.metrics != nil {
			s.metrics.ActiveGenerations.Dec()
		}
		if r := recover(); r != nil {
			log.Printf("generator: task panic for session %s: %v", task.SessionID, r)
			s.finish(handle, StatusError)
			s.metrics.ObserveGeneration("panic", time.Since(start))
		}
	}()

	res, err := s.runWithRetry(ctx, task, s.pipeline.Run)

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		// Cancellation is not an error: Cancel() already reset the session
		// to idle and no error event is owed.
		s.finishCancelled(handle)
		s.metrics.ObserveGeneration("cancelled", time.Since(start))

	case err != nil:
		log.Printf("generator: failed to generate CRS for session %s: %v", task.SessionID, err)
		if s.finish(handle, StatusError) {
			s.publish(task.SessionID, events.Event{
				Type:       events.TypeError,
				Error:      err.Error(),
				RetryCount: task.RetryCount,
			})
		}
		s.metrics.ObserveGeneration("error", time.Since(start))

	case res.Skipped:
		// Nothing to generate from; the session is immediately eligible for
		// a fresh queue_generation call.
		s.finish(handle, StatusIdle)
		s.metrics.ObserveGeneration("skipped", time.Since(start))

	default:
		if s.finish(handle, StatusComplete) {
			s.publishCompletion(task, res)
		}
		result := "updated"
		if res.IsComplete {
			result = "complete"
		}
		s.metrics.ObserveGeneration(result, time.Since(start))
		log.Printf("generator: CRS generation complete for session %s (complete=%t)", task.SessionID, res.IsComplete)
	}
}

// finish releases the session if this handle still owns it. A handle loses
// ownership when Cancel() already cleaned up (and possibly a new task took
// the session over), in which case no state is touched and no terminal event
// should be published.
func (s *Scheduler) finish(handle *taskHandle, st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[handle.task.SessionID] != handle {
		return false
	}
	delete(s.active, handle.task.SessionID)
	delete(s.processing, handle.task.SessionID)
	s.status[handle.task.SessionID] = st
	return true
}

func (s *Scheduler) finishCancelled(handle *taskHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[handle.task.SessionID] != handle {
		return
	}
	// Cancelled via the parent context (shutdown) rather than Cancel();
	// reset to idle the same way.
	delete(s.active, handle.task.SessionID)
	delete(s.processing, handle.task.SessionID)
	s.status[handle.task.SessionID] = StatusIdle
}

func (s *Scheduler) publishCompletion(task *Task, res Result) {
	evtType := events.TypeUpdated
	if res.IsComplete {
		evtType = events.TypeComplete
	}
	info := res.CompletenessInfo
	s.publish(task.SessionID, events.Event{
		Type:             evtType,
		SessionID:        task.SessionID,
		Percentage:       100,
		IsComplete:       events.Bool(res.IsComplete),
		CRSTemplate:      res.Document.JSON(),
		SummaryPoints:    res.SummaryPoints,
		OverallSummary:   res.OverallSummary,
		CompletenessInfo: &info,
		CRSDocumentID:    res.DocumentID,
	})
}

// Status returns the session's generation status, idle when never seen.
func (s *Scheduler) Status(sessionID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[sessionID]; ok {
		return st
	}
	return StatusIdle
}

// Cancel signals cooperative cancellation to the session's in-flight
// generation. The execution unit observes it at its next step boundary and
// unwinds without persisting; the session resets to idle and is immediately
// eligible for a fresh QueueGeneration.
func (s *Scheduler) Cancel(sessionID string) bool {
	s.mu.Lock()
	handle, ok := s.active[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.active, sessionID)
	delete(s.processing, sessionID)
	s.status[sessionID] = StatusIdle
	s.mu.Unlock()

	handle.cancel()
	log.Printf("generator: cancelled CRS generation for session %s", sessionID)
	return true
}
