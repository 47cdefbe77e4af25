// Package pipeline assembles the merge, registry, checkpoint, and scheduler
// layers into one batch-scoped facade. Scrapers feed partial contributions
// in; merged items flow through summarization exactly once; callers read
// progress and results back out.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"digest/internal/checkpoint"
	"digest/internal/config"
	"digest/internal/logging"
	"digest/internal/merge"
	"digest/internal/notifications"
	"digest/internal/registry"
	"digest/internal/scheduler"
	"digest/internal/summarizer"
)

// Option customizes pipeline assembly.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	client   scheduler.Summarizer
	kinds    []string
	batchID  string
	progress scheduler.ProgressFunc
}

// WithLogger overrides the default nop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSummarizer substitutes the summarization backend. The default client
// is built from the config's summarizer section.
func WithSummarizer(client scheduler.Summarizer) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithExpectedKinds lists the contribution kinds each item waits for before
// it is considered fully scraped. Empty means the first non-empty
// contribution suffices.
func WithExpectedKinds(kinds ...string) Option {
	return func(o *options) {
		o.kinds = kinds
	}
}

// WithBatchID overrides the generated batch identifier.
func WithBatchID(batchID string) Option {
	return func(o *options) {
		batchID = strings.TrimSpace(batchID)
		if batchID != "" {
			o.batchID = batchID
		}
	}
}

// WithProgressFunc registers a per-item progress sink.
func WithProgressFunc(fn scheduler.ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// Pipeline owns every component for one batch run.
type Pipeline struct {
	cfg         *config.Config
	store       *registry.Store
	checkpoints *checkpoint.Store
	sched       *scheduler.Scheduler
	merger      *merge.Merger
	notifier    notifications.Service
	logger      *slog.Logger

	batchID   string
	startedAt time.Time
}

// New opens the registry and checkpoint stores and wires the components
// together. Callers must Close the pipeline to release the registry.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	settings := options{
		logger:  logging.NewNop(),
		batchID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.client == nil {
		settings.client = summarizer.NewFromConfig(cfg)
	}

	store, err := registry.Open(cfg)
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpoint.NewStore(cfg.Paths.CheckpointDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	notifier := notifications.NewService(cfg)
	p := &Pipeline{
		cfg:         cfg,
		store:       store,
		checkpoints: checkpoints,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(settings.logger, "pipeline"),
		batchID:     settings.batchID,
	}
	p.sched = scheduler.New(cfg, store, checkpoints, settings.client,
		scheduler.WithLogger(settings.logger),
		scheduler.WithNotifier(notifier),
		scheduler.WithBatchID(settings.batchID),
		scheduler.WithProgressFunc(settings.progress),
	)
	p.merger = merge.New(settings.kinds, p.handleReady, settings.logger)
	return p, nil
}

// BatchID returns the identifier for this run.
func (p *Pipeline) BatchID() string {
	return p.batchID
}

// Start launches the summarization worker and announces the batch.
func (p *Pipeline) Start(ctx context.Context) error {
	p.startedAt = time.Now()
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return err
	}
	if err := p.notifier.NotifyBatchStarted(ctx, p.batchID, stats.Total); err != nil {
		p.logger.Warn("batch start notification not delivered", logging.Error(err))
	}
	return p.sched.Start(ctx)
}

// Close stops the worker and releases the registry.
func (p *Pipeline) Close() error {
	p.sched.Stop()
	return p.store.Close()
}

// RegisterExpectedItems seeds the batch manifest.
func (p *Pipeline) RegisterExpectedItems(ctx context.Context, ids []string, sources map[string]string) error {
	return p.sched.RegisterExpectedItems(ctx, ids, sources)
}

// OnPartial accepts one contribution from a scraper thread. Ids never seen
// before are registered on the fly so stray results are kept rather than
// dropped.
func (p *Pipeline) OnPartial(ctx context.Context, itemID, kind string, payload json.RawMessage) error {
	item, err := p.store.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		p.logger.Warn("contribution for unregistered item, registering it",
			logging.String(logging.FieldItemID, itemID),
			logging.String(logging.FieldKind, kind),
		)
		if err := p.store.Register(ctx, []string{itemID}, nil); err != nil && !errors.Is(err, registry.ErrDuplicateItem) {
			return err
		}
	}
	return p.merger.OnPartial(itemID, kind, payload)
}

// MarkNoMoreExpected signals that no further contributions will arrive for
// the item, releasing it with whatever content it has.
func (p *Pipeline) MarkNoMoreExpected(itemID string) error {
	return p.merger.MarkNoMoreExpected(itemID)
}

// OnItemScraped is the direct entry point for callers that merged an item's
// data themselves, bypassing the contribution merger.
func (p *Pipeline) OnItemScraped(ctx context.Context, itemID string, payload json.RawMessage) error {
	return p.sched.OnItemScraped(ctx, itemID, payload)
}

// Cancel stops work on one item.
func (p *Pipeline) Cancel(ctx context.Context, itemID string) (bool, error) {
	return p.sched.Cancel(ctx, itemID)
}

// WaitForCompletion blocks until the batch is terminal or the timeout
// elapses, then reports completion downstream.
func (p *Pipeline) WaitForCompletion(ctx context.Context, timeout time.Duration) (bool, error) {
	done, err := p.sched.WaitForCompletion(ctx, timeout)
	if err != nil || !done {
		return done, err
	}
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return true, err
	}
	duration := time.Since(p.startedAt)
	if err := p.notifier.NotifyBatchCompleted(ctx, p.batchID, stats.Completed, stats.Failed, stats.Cancelled, duration); err != nil {
		p.logger.Warn("batch completion notification not delivered", logging.Error(err))
	}
	return true, nil
}

// ItemStates returns the current status of every registered item.
func (p *Pipeline) ItemStates(ctx context.Context) (map[string]registry.Status, error) {
	return p.sched.ItemStates(ctx)
}

// Statistics returns per-status counts.
func (p *Pipeline) Statistics(ctx context.Context) (registry.Stats, error) {
	return p.sched.Statistics(ctx)
}

// SummarizedData returns the summaries of every completed item.
func (p *Pipeline) SummarizedData(ctx context.Context) (map[string]json.RawMessage, error) {
	return p.sched.SummarizedData(ctx)
}

// handleReady receives the single ready event per item from the merger and
// hands the merged payload to the scheduler. A ready event for an item that
// already left pending means two merge paths fired for the same item; the
// second result is discarded loudly.
func (p *Pipeline) handleReady(itemID string, payload merge.MergedPayload) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to encode merged payload",
			logging.String(logging.FieldItemID, itemID),
			logging.Error(err),
		)
		return
	}

	ctx := context.Background()
	if err := p.sched.OnItemScraped(ctx, itemID, encoded); err != nil {
		if errors.Is(err, registry.ErrIllegalTransition) {
			p.logger.Error("merge conflict: item already scraped, discarding duplicate result",
				logging.String(logging.FieldItemID, itemID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "merge_conflict"),
				logging.String(logging.FieldErrorHint, "two merge paths produced a ready event for the same item"),
			)
			return
		}
		p.logger.Error("failed to queue scraped item",
			logging.String(logging.FieldItemID, itemID),
			logging.Error(err),
		)
	}
}
