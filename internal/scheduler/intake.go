package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"digest/internal/logging"
	"digest/internal/registry"
)

// RegisterExpectedItems seeds the registry with the batch manifest. Every id
// starts pending; sources may be nil when unknown.
func (s *Scheduler) RegisterExpectedItems(ctx context.Context, ids []string, sources map[string]string) error {
	return s.store.Register(ctx, ids, sources)
}

// OnItemScraped accepts one item's fully merged payload, records the first
// checkpoint, and hands the item to the worker. Callers never block on
// summarization.
func (s *Scheduler) OnItemScraped(ctx context.Context, itemID string, payload json.RawMessage) error {
	if s.isStopped() {
		return ErrStopped
	}
	if err := s.store.MarkScraped(ctx, itemID, payload); err != nil {
		return err
	}
	item, err := s.store.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return registry.ErrUnknownItem
	}

	if err := s.checkpoints.WriteScraped(s.checkpointKey(item), payload); err != nil {
		s.logger.Warn("failed to write scraped artifact",
			logging.String(logging.FieldItemID, itemID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "checkpoint_write_failed"),
		)
	}
	s.emit(Event{ItemID: itemID, Status: registry.StatusScraped})

	return s.Enqueue(ctx, itemID)
}

// Enqueue moves a scraped item into the FIFO queue and wakes the worker.
func (s *Scheduler) Enqueue(ctx context.Context, itemID string) error {
	if s.isStopped() {
		return ErrStopped
	}
	if err := s.store.MarkQueued(ctx, itemID); err != nil {
		return err
	}
	s.emit(Event{ItemID: itemID, Status: registry.StatusQueued})
	s.signalWake()
	return nil
}

// Cancel stops work on an item. Items not yet summarizing are cancelled
// immediately; an in-flight item gets an advisory flag and its summary is
// discarded when the worker notices. Returns false when the item is already
// terminal or unknown.
func (s *Scheduler) Cancel(ctx context.Context, itemID string) (bool, error) {
	hard, err := s.store.CancelPending(ctx, itemID)
	if err != nil {
		return false, err
	}
	if hard {
		s.emit(Event{ItemID: itemID, Status: registry.StatusCancelled})
		return true, nil
	}
	return s.store.RequestCancel(ctx, itemID)
}

// WaitForCompletion blocks until every registered item reaches a terminal
// status or the timeout elapses. Returns true when the batch finished.
func (s *Scheduler) WaitForCompletion(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		stats, err := s.store.Stats(ctx)
		if err != nil {
			return false, err
		}
		if stats.Total > 0 && stats.AllTerminal() {
			return true, nil
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ItemStates returns the current status of every registered item.
func (s *Scheduler) ItemStates(ctx context.Context) (map[string]registry.Status, error) {
	return s.store.Snapshot(ctx)
}

// Statistics returns per-status counts for the batch.
func (s *Scheduler) Statistics(ctx context.Context) (registry.Stats, error) {
	return s.store.Stats(ctx)
}

// SummarizedData returns the stored summary for every completed item.
func (s *Scheduler) SummarizedData(ctx context.Context) (map[string]json.RawMessage, error) {
	return s.store.SummarizedData(ctx)
}
