package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Register seeds one pending row per item id. Sources maps ids to their
// caller-defined source kind; ids missing from the map are stored as
// "unknown". Registering an id twice is an error so the one-record-per-item
// invariant cannot be violated silently.
func (s *Store) Register(ctx context.Context, ids []string, sources map[string]string) error {
	ctx = ensureContext(ctx)
	now := timestamp(time.Now())
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return errors.New("item id must not be empty")
		}
		source := sources[id]
		if source == "" {
			source = "unknown"
		}
		_, err := s.execWithRetry(
			ctx,
			`INSERT INTO items (item_id, source, status, attempts, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?)`,
			id,
			source,
			StatusPending,
			now,
			now,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return fmt.Errorf("%w: %s", ErrDuplicateItem, id)
			}
			return fmt.Errorf("register item %s: %w", id, err)
		}
	}
	return nil
}

// Get fetches an item by id, or nil when the id is unknown.
func (s *Store) Get(ctx context.Context, itemID string) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM items WHERE item_id = ?`, itemID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// List returns items filtered by status set (or all items when no status is
// provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM items`
	orderClause := ` ORDER BY created_at, item_id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Snapshot returns a point-in-time id→status mapping for progress reporting.
func (s *Store) Snapshot(ctx context.Context) (map[string]Status, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT item_id, status FROM items`)
	if err != nil {
		return nil, fmt.Errorf("snapshot items: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]Status)
	for rows.Next() {
		var id string
		var status Status
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		snapshot[id] = status
	}
	return snapshot, rows.Err()
}

// Stats returns item counts grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("registry stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusScraped:
			stats.Scraped = count
		case StatusQueued:
			stats.Queued = count
		case StatusSummarizing:
			stats.Summarizing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// SummarizedData returns the stored summary for every completed item.
func (s *Store) SummarizedData(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT item_id, summary_json FROM items WHERE status = ? AND summary_json IS NOT NULL`,
		StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("summarized data: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var id, summary string
		if err := rows.Scan(&id, &summary); err != nil {
			return nil, err
		}
		out[id] = json.RawMessage(summary)
	}
	return out, rows.Err()
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
