package generator

import (
	"context"
	"log"
	"time"

	"github.com/Abdul-AMA/bridgeai-backend/internal/events"
)

// backoffCap bounds the exponential growth; with the default retry budget it
// is never reached.
const backoffCap = 5 * time.Minute

// attemptFunc runs one generation attempt. Injected so the retry policy is
// testable independent of the pipeline.
type attemptFunc func(ctx context.Context, task *Task) (Result, error)

// runWithRetry wraps attempts with bounded exponential backoff. Attempt
// indices run 0..MaxRetries-1; every non-final failure publishes a retry
// event and sleeps base<<attempt. Context cancellation aborts immediately
// without a retry event.
func (s *Scheduler) runWithRetry(ctx context.Context, task *Task, attempt attemptFunc) (Result, error) {
	var lastErr error
	for i := 0; i < task.MaxRetries; i++ {
		res, err := attempt(ctx, task)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		lastErr = err
		task.RetryCount = i + 1

		if i >= task.MaxRetries-1 {
			log.Printf("generator: generation failed after %d attempts for session %s: %v", task.MaxRetries, task.SessionID, err)
			break
		}

		wait := backoff(s.backoffBase, i)
		log.Printf("generator: attempt %d failed for session %s, retrying in %s: %v", i+1, task.SessionID, wait, err)
		s.publish(task.SessionID, events.Event{
			Type:        events.TypeRetry,
			Attempt:     i + 1,
			MaxAttempts: task.MaxRetries,
			WaitTime:    wait.Seconds(),
			Error:       err.Error(),
		})
		if s.metrics != nil {
			s.metrics.GenerationRetries.Inc()
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Result{}, lastErr
}

// backoff computes base<<attempt capped at backoffCap.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
