package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"digest/internal/checkpoint"
	"digest/internal/logging"
	"digest/internal/registry"
	"digest/internal/services"
	"digest/internal/summarizer"
)

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := s.store.NextQueued(ctx)
		if err != nil {
			s.logger.Error("failed to fetch next queued item",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check registry database access"),
			)
			s.waitForItemOrShutdown(ctx)
			continue
		}
		if item == nil {
			s.failStalePending(ctx)
			s.waitForItemOrShutdown(ctx)
			continue
		}

		if err := s.processItem(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("item processing failed",
				logging.String(logging.FieldItemID, item.ItemID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "item_processing_failed"),
			)
		}
	}
}

func (s *Scheduler) waitForItemOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-time.After(s.pollInterval):
	}
}

// processItem runs one item through summarization, including the retry
// budget, the cancel check, and both terminal bookkeeping paths.
func (s *Scheduler) processItem(ctx context.Context, item *registry.Item) error {
	if err := s.store.Transition(ctx, item.ItemID, registry.StatusQueued, registry.StatusSummarizing); err != nil {
		if errors.Is(err, registry.ErrIllegalTransition) {
			// Cancelled out from under the worker between fetch and claim.
			return nil
		}
		return err
	}

	requestID := uuid.NewString()
	logger := s.logger.With(
		logging.String(logging.FieldItemID, item.ItemID),
		logging.String(logging.FieldBatchID, s.batchID),
		logging.String(logging.FieldRequestID, requestID),
	)
	logger.Info("summarizing item",
		logging.String(logging.FieldEventType, "summarize_started"),
	)
	s.emit(Event{ItemID: item.ItemID, Status: registry.StatusSummarizing})

	// Items resumed from a prior run may predate their scraped artifact.
	key := s.checkpointKey(item)
	if !s.checkpoints.HasScraped(key) {
		if err := s.checkpoints.WriteScraped(key, item.Payload); err != nil {
			logger.Warn("failed to write scraped artifact",
				logging.Error(err),
				logging.String(logging.FieldEventType, "checkpoint_write_failed"),
			)
		}
	}

	attempts := 0
	var summary summarizer.Summary
	err := retry.Do(
		func() error {
			attempts++
			result, err := s.client.Summarize(ctx, item.ItemID, item.Payload)
			if err != nil {
				return err
			}
			summary = result
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.maxAttempts),
		retry.Delay(s.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(services.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("summarization attempt failed, retrying",
				logging.Int(logging.FieldAttempt, int(n)+1),
				logging.Error(err),
				logging.String(logging.FieldEventType, "summarize_retry"),
			)
		}),
	)

	if ctx.Err() != nil {
		// Shutdown, not an item failure.
		return ctx.Err()
	}

	if cancelled, cerr := s.finishIfCancelled(ctx, item.ItemID, attempts, logger); cerr != nil {
		return cerr
	} else if cancelled {
		return nil
	}

	if err != nil {
		return s.failItem(ctx, item.ItemID, attempts, err, logger)
	}
	return s.completeItem(ctx, item, summary, attempts, logger)
}

// finishIfCancelled honors an advisory cancel that arrived while the item
// was summarizing. Any summary produced in the meantime is discarded.
func (s *Scheduler) finishIfCancelled(ctx context.Context, itemID string, attempts int, logger *slog.Logger) (bool, error) {
	current, err := s.store.Get(ctx, itemID)
	if err != nil {
		return false, err
	}
	if current == nil || !current.CancelRequested {
		return false, nil
	}
	if err := s.store.FinishCancelled(ctx, itemID, attempts); err != nil {
		return false, err
	}
	logger.Info("item cancelled during summarization",
		logging.Int(logging.FieldAttempt, attempts),
		logging.String(logging.FieldEventType, "summarize_cancelled"),
	)
	s.emit(Event{ItemID: itemID, Status: registry.StatusCancelled, Attempt: attempts, Stats: s.statsSnapshot(ctx)})
	return true, nil
}

func (s *Scheduler) completeItem(ctx context.Context, item *registry.Item, summary summarizer.Summary, attempts int, logger *slog.Logger) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return s.failItem(ctx, item.ItemID, attempts, err, logger)
	}

	key := s.checkpointKey(item)
	if err := s.checkpoints.WriteComplete(key, item.Payload, encoded); err != nil {
		// The registry stays authoritative; a missing artifact only costs
		// resumability for this item.
		logger.Warn("failed to write completion artifact",
			logging.Error(err),
			logging.String(logging.FieldEventType, "checkpoint_write_failed"),
		)
	}
	if err := s.store.Complete(ctx, item.ItemID, encoded, attempts); err != nil {
		return err
	}
	logger.Info("item summarized",
		logging.Int(logging.FieldAttempt, attempts),
		logging.String(logging.FieldEventType, "summarize_completed"),
	)
	s.emit(Event{ItemID: item.ItemID, Status: registry.StatusCompleted, Attempt: attempts, Stats: s.statsSnapshot(ctx)})
	return nil
}

func (s *Scheduler) failItem(ctx context.Context, itemID string, attempts int, cause error, logger *slog.Logger) error {
	if err := s.store.Fail(ctx, itemID, attempts, cause.Error()); err != nil {
		return err
	}
	logger.Warn("item failed permanently",
		logging.Int(logging.FieldAttempt, attempts),
		logging.Error(cause),
		logging.String(logging.FieldEventType, "summarize_failed"),
		logging.String(logging.FieldErrorHint, "inspect the item error message; transient failures exhausted the retry budget"),
	)
	if err := s.notifier.NotifyItemFailed(ctx, itemID, cause.Error()); err != nil {
		logger.Warn("failure notification not delivered",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
	s.emit(Event{ItemID: itemID, Status: registry.StatusFailed, Attempt: attempts, Err: cause, Stats: s.statsSnapshot(ctx)})
	return nil
}

// failStalePending times out items that never received a contribution.
// Disabled unless workflow.pending_timeout is set.
func (s *Scheduler) failStalePending(ctx context.Context) {
	timeout := time.Duration(s.cfg.Workflow.PendingTimeout) * time.Second
	if timeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-timeout)
	count, err := s.store.FailStalePending(ctx, cutoff)
	if err != nil {
		s.logger.Warn("stale pending sweep failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stale_sweep_failed"),
		)
		return
	}
	if count > 0 {
		s.logger.Warn("timed out pending items with no contributions",
			logging.Int64("count", count),
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldEventType, "pending_timeout"),
		)
	}
}

// statsSnapshot is best effort; the sink gets zero counts if the read fails.
func (s *Scheduler) statsSnapshot(ctx context.Context) registry.Stats {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return registry.Stats{}
	}
	return stats
}

func (s *Scheduler) checkpointKey(item *registry.Item) checkpoint.Key {
	return checkpoint.Key{BatchID: s.batchID, Source: item.Source, ItemID: item.ItemID}
}
