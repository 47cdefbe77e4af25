package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Transition moves an item from one status to another with compare-and-set
// semantics: the update applies only when the stored status still equals
// from. A stale or illegal move returns ErrIllegalTransition.
func (s *Store) Transition(ctx context.Context, itemID string, from, to Status) error {
	if !transitionAllowed(from, to) {
		return illegalTransition(itemID, from, to, "")
	}
	return s.casUpdate(ctx, itemID, from, to, `status = ?, updated_at = ?`, to, timestamp(time.Now()))
}

// MarkScraped stores the merged payload and moves pending → scraped.
func (s *Store) MarkScraped(ctx context.Context, itemID string, payload json.RawMessage) error {
	return s.casUpdate(
		ctx, itemID, StatusPending, StatusScraped,
		`status = ?, payload_json = ?, updated_at = ?`,
		StatusScraped, nullableJSON(payload), timestamp(time.Now()),
	)
}

// MarkQueued moves scraped → queued and records the queue time used for FIFO
// ordering.
func (s *Store) MarkQueued(ctx context.Context, itemID string) error {
	now := timestamp(time.Now())
	return s.casUpdate(
		ctx, itemID, StatusScraped, StatusQueued,
		`status = ?, queued_at = ?, updated_at = ?`,
		StatusQueued, now, now,
	)
}

// NextQueued returns the queued item that became ready first, or nil when
// the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY queued_at, item_id LIMIT 1`,
		StatusQueued,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	return item, nil
}

// Complete stores the summary and moves summarizing → completed.
func (s *Store) Complete(ctx context.Context, itemID string, summary json.RawMessage, attempts int) error {
	now := timestamp(time.Now())
	return s.casUpdate(
		ctx, itemID, StatusSummarizing, StatusCompleted,
		`status = ?, summary_json = ?, attempts = ?, error_message = NULL, completed_at = ?, updated_at = ?`,
		StatusCompleted, nullableJSON(summary), attempts, now, now,
	)
}

// Fail records the last error and moves summarizing → failed.
func (s *Store) Fail(ctx context.Context, itemID string, attempts int, message string) error {
	now := timestamp(time.Now())
	return s.casUpdate(
		ctx, itemID, StatusSummarizing, StatusFailed,
		`status = ?, attempts = ?, error_message = ?, completed_at = ?, updated_at = ?`,
		StatusFailed, attempts, nullableString(message), now, now,
	)
}

// CancelPending cancels an item that has not yet entered summarizing.
// It reports whether a cancellation took effect.
func (s *Store) CancelPending(ctx context.Context, itemID string) (bool, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE items SET status = ?, completed_at = ?, updated_at = ? WHERE item_id = ? AND status IN (?, ?, ?)`,
		StatusCancelled, now, now, itemID,
		StatusPending, StatusScraped, StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("cancel item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequestCancel flags an in-flight item so the worker discards its result.
// Advisory only: the external call is allowed to finish.
func (s *Store) RequestCancel(ctx context.Context, itemID string) (bool, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE items SET cancel_requested = 1, updated_at = ? WHERE item_id = ? AND status = ?`,
		timestamp(time.Now()), itemID, StatusSummarizing,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// FinishCancelled moves summarizing → cancelled after an advisory cancel,
// discarding the in-flight result.
func (s *Store) FinishCancelled(ctx context.Context, itemID string, attempts int) error {
	now := timestamp(time.Now())
	return s.casUpdate(
		ctx, itemID, StatusSummarizing, StatusCancelled,
		`status = ?, attempts = ?, completed_at = ?, updated_at = ?`,
		StatusCancelled, attempts, now, now,
	)
}

// FailStalePending fails pending items created before the cutoff that never
// received a contribution. Returns the number of items failed.
func (s *Store) FailStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE items
         SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE status = ? AND payload_json IS NULL AND created_at < ?`,
		StatusFailed,
		"no contribution received before pending timeout",
		now,
		now,
		StatusPending,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale pending: %w", err)
	}
	return res.RowsAffected()
}

// casUpdate applies setClause only when the item is still in from. A zero
// row count is disambiguated into unknown-item or illegal-transition.
func (s *Store) casUpdate(ctx context.Context, itemID string, from, to Status, setClause string, args ...any) error {
	ctx = ensureContext(ctx)
	query := `UPDATE items SET ` + setClause + ` WHERE item_id = ? AND status = ?`
	args = append(args, itemID, from)
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	return illegalTransition(itemID, from, to, current.Status)
}
