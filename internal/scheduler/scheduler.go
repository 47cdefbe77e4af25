package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"digest/internal/checkpoint"
	"digest/internal/config"
	"digest/internal/logging"
	"digest/internal/notifications"
	"digest/internal/registry"
	"digest/internal/summarizer"
)

// Summarizer produces a structured summary for one item's merged payload.
// *summarizer.Client satisfies this; tests substitute stubs.
type Summarizer interface {
	Summarize(ctx context.Context, itemID string, payload json.RawMessage) (summarizer.Summary, error)
}

// Event reports one item's progress to the configured sink. Events for a
// terminal outcome carry a snapshot of the batch counts taken just after the
// transition.
type Event struct {
	ItemID  string
	Status  registry.Status
	Attempt int
	Err     error
	Stats   registry.Stats
}

// ProgressFunc receives progress events. It is called from the worker
// goroutine; implementations must not block for long.
type ProgressFunc func(Event)

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default nop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "scheduler")
		}
	}
}

// WithNotifier wires push notifications for item failures.
func WithNotifier(notifier notifications.Service) Option {
	return func(s *Scheduler) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithBatchID sets the batch identifier stamped on checkpoint artifacts.
func WithBatchID(batchID string) Option {
	return func(s *Scheduler) {
		batchID = strings.TrimSpace(batchID)
		if batchID != "" {
			s.batchID = batchID
		}
	}
}

// WithProgressFunc registers a progress sink.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(s *Scheduler) {
		s.progress = fn
	}
}

// Scheduler owns the single summarization worker for a batch.
type Scheduler struct {
	cfg         *config.Config
	store       *registry.Store
	checkpoints *checkpoint.Store
	client      Summarizer
	notifier    notifications.Service
	logger      *slog.Logger
	progress    ProgressFunc

	batchID      string
	pollInterval time.Duration
	retryDelay   time.Duration
	maxAttempts  uint

	wake chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ErrStopped rejects intake once shutdown has begun.
var ErrStopped = errors.New("scheduler stopped")

// New constructs a scheduler. The config must already be normalized.
func New(cfg *config.Config, store *registry.Store, checkpoints *checkpoint.Store, client Summarizer, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:          cfg,
		store:        store,
		checkpoints:  checkpoints,
		client:       client,
		notifier:     notifications.NewService(cfg),
		logger:       logging.NewNop(),
		batchID:      "batch",
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryDelay:   time.Duration(cfg.Summarizer.RetryBackoffSeconds * float64(time.Second)),
		maxAttempts:  uint(cfg.Summarizer.MaxRetries),
		wake:         make(chan struct{}, 1),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = time.Second
	}
	if s.retryDelay <= 0 {
		s.retryDelay = time.Second
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchID returns the identifier stamped on checkpoint artifacts.
func (s *Scheduler) BatchID() string {
	return s.batchID
}

// Start launches the worker goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop terminates the worker and waits for it to drain the in-flight item.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.stopped = true
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// signalWake nudges the worker without blocking the producer.
func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// emit delivers a progress event, shielding the worker from sink panics.
func (s *Scheduler) emit(event Event) {
	fn := s.progress
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("progress sink panicked",
				logging.String(logging.FieldItemID, event.ItemID),
				logging.String(logging.FieldEventType, "progress_sink_panic"),
				logging.Any("panic", r),
			)
		}
	}()
	fn(event)
}
