package merge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"digest/internal/logging"
)

// MergedPayload is the union of every contribution an item had received when
// it became eligible, keyed by contribution kind.
type MergedPayload map[string]json.RawMessage

// ReadyFunc receives the single ready event for an item. It is invoked
// outside all merger locks, at most once per item.
type ReadyFunc func(itemID string, payload MergedPayload)

// ErrAlreadyReady reports a forced re-evaluation of an item whose ready
// event already fired. OnPartial swallows this case by design (late
// contributions are expected); it is exported for callers that need to
// distinguish it.
var ErrAlreadyReady = errors.New("item already emitted ready event")

// Merger accumulates partial contributions per item and emits one ready
// event when an item becomes eligible: at least one non-empty contribution,
// and either every expected kind has arrived or the caller has signalled
// that no more are coming.
type Merger struct {
	mu      sync.Mutex
	records map[string]*record

	expected []string
	ready    ReadyFunc
	logger   *slog.Logger
}

type record struct {
	mu            sync.Mutex
	contributions map[string]json.RawMessage
	noMore        bool
	emitted       bool
}

// New constructs a Merger. expectedKinds lists the contribution kinds an
// item normally waits for; an empty list makes the first non-empty
// contribution sufficient. ready must not be nil.
func New(expectedKinds []string, ready ReadyFunc, logger *slog.Logger) *Merger {
	kinds := make([]string, 0, len(expectedKinds))
	for _, kind := range expectedKinds {
		if kind = strings.TrimSpace(kind); kind != "" {
			kinds = append(kinds, kind)
		}
	}
	return &Merger{
		records:  make(map[string]*record),
		expected: kinds,
		ready:    ready,
		logger:   logging.NewComponentLogger(logger, "merge"),
	}
}

// OnPartial records payload under kind for the item, creating the item
// record lazily, then evaluates eligibility. A second submission for the
// same kind overwrites the previous value. Calls after the ready event are
// logged no-ops. Safe for concurrent use across items and for the same item.
func (m *Merger) OnPartial(itemID, kind string, payload json.RawMessage) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return errors.New("item id must not be empty")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return errors.New("contribution kind must not be empty")
	}

	rec := m.record(itemID)

	rec.mu.Lock()
	if rec.emitted {
		rec.mu.Unlock()
		m.logger.Debug("contribution after ready event ignored",
			logging.String(logging.FieldItemID, itemID),
			logging.String(logging.FieldKind, kind),
		)
		return nil
	}
	rec.contributions[kind] = payload
	merged, eligible := rec.evaluateLocked(m.expected)
	rec.mu.Unlock()

	if eligible {
		m.emit(itemID, merged)
	}
	return nil
}

// MarkNoMoreExpected signals that no further contributions will arrive for
// the item, forcing an eligibility evaluation even when expected kinds are
// missing. Calling it for an already-ready item is a no-op.
func (m *Merger) MarkNoMoreExpected(itemID string) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return errors.New("item id must not be empty")
	}

	rec := m.record(itemID)

	rec.mu.Lock()
	if rec.emitted {
		rec.mu.Unlock()
		m.logger.Debug("no-more-expected after ready event ignored",
			logging.String(logging.FieldItemID, itemID),
		)
		return nil
	}
	rec.noMore = true
	merged, eligible := rec.evaluateLocked(m.expected)
	rec.mu.Unlock()

	if eligible {
		m.emit(itemID, merged)
	}
	return nil
}

// Ready reports whether the item's ready event has fired.
func (m *Merger) Ready(itemID string) bool {
	m.mu.Lock()
	rec, ok := m.records[itemID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.emitted
}

// record returns the item's record, creating it lazily. Only the map lookup
// happens under the global lock; per-item work uses the record lock.
func (m *Merger) record(itemID string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[itemID]
	if !ok {
		rec = &record{contributions: make(map[string]json.RawMessage)}
		m.records[itemID] = rec
	}
	return rec
}

// evaluateLocked checks eligibility and flips the emitted flag exactly once.
// The caller must hold rec.mu. On the winning evaluation it returns a copy
// of the merged payload for use after the lock is released.
func (r *record) evaluateLocked(expected []string) (MergedPayload, bool) {
	if r.emitted {
		return nil, false
	}

	hasContent := false
	for _, payload := range r.contributions {
		if len(payload) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return nil, false
	}

	complete := r.noMore
	if !complete {
		complete = true
		for _, kind := range expected {
			if _, ok := r.contributions[kind]; !ok {
				complete = false
				break
			}
		}
	}
	if !complete {
		return nil, false
	}

	r.emitted = true
	merged := make(MergedPayload, len(r.contributions))
	for kind, payload := range r.contributions {
		merged[kind] = payload
	}
	return merged, true
}

func (m *Merger) emit(itemID string, payload MergedPayload) {
	m.logger.Debug("item ready",
		logging.String(logging.FieldItemID, itemID),
		logging.Int("contributions", len(payload)),
	)
	if m.ready != nil {
		m.ready(itemID, payload)
	}
}
