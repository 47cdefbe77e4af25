package registry

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusScraped     Status = "scraped"
	StatusQueued      Status = "queued"
	StatusSummarizing Status = "summarizing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusScraped,
	StatusQueued,
	StatusSummarizing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// legalTransitions enumerates every edge the state machine allows. Anything
// absent here is a caller bug and is rejected with ErrIllegalTransition.
var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusScraped, StatusFailed, StatusCancelled},
	StatusScraped:     {StatusQueued, StatusCancelled},
	StatusQueued:      {StatusSummarizing, StatusCancelled},
	StatusSummarizing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func transitionAllowed(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item represents one unit of work tracked end to end.
type Item struct {
	ItemID          string
	Source          string
	Status          Status
	Payload         json.RawMessage
	Summary         json.RawMessage
	Attempts        int
	ErrorMessage    string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	QueuedAt        *time.Time
	CompletedAt     *time.Time
}

// Stats aggregates item counts per lifecycle state.
type Stats struct {
	Pending     int
	Scraped     int
	Queued      int
	Summarizing int
	Completed   int
	Failed      int
	Cancelled   int
	Total       int
}

// AllTerminal reports whether every registered item reached a terminal state.
// An empty registry counts as terminal; callers that require at least one
// item check Total themselves.
func (s Stats) AllTerminal() bool {
	return s.Completed+s.Failed+s.Cancelled == s.Total
}
