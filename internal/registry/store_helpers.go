package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const itemColumns = "item_id, source, status, payload_json, summary_json, attempts, error_message, cancel_requested, created_at, updated_at, queued_at, completed_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		itemID       string
		source       sql.NullString
		statusStr    string
		payload      sql.NullString
		summary      sql.NullString
		attempts     sql.NullInt64
		errorMessage sql.NullString
		cancelReq    sql.NullInt64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		queuedRaw    sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&itemID,
		&source,
		&statusStr,
		&payload,
		&summary,
		&attempts,
		&errorMessage,
		&cancelReq,
		&createdRaw,
		&updatedRaw,
		&queuedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ItemID:       itemID,
		Source:       source.String,
		Status:       Status(statusStr),
		Attempts:     int(attempts.Int64),
		ErrorMessage: errorMessage.String,
	}
	if payload.Valid && payload.String != "" {
		item.Payload = json.RawMessage(payload.String)
	}
	if summary.Valid && summary.String != "" {
		item.Summary = json.RawMessage(summary.String)
	}
	if cancelReq.Valid {
		item.CancelRequested = cancelReq.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if queuedRaw.Valid {
		if queued, err := parseTimeString(queuedRaw.String); err == nil {
			item.QueuedAt = &queued
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			item.CompletedAt = &completed
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timestamp uses a fixed-width fractional second so stored strings sort in
// chronological order; RFC3339Nano trims trailing zeros and does not.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
