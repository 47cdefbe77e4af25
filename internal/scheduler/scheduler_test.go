package scheduler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"digest/internal/checkpoint"
	"digest/internal/registry"
	"digest/internal/scheduler"
	"digest/internal/services"
	"digest/internal/summarizer"
	"digest/internal/testsupport"
)

// stubSummarizer scripts per-item outcomes and records call order.
type stubSummarizer struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
	fn    func(itemID string, call int) (summarizer.Summary, error)
}

func newStubSummarizer(fn func(itemID string, call int) (summarizer.Summary, error)) *stubSummarizer {
	return &stubSummarizer{calls: make(map[string]int), fn: fn}
}

func okSummary(itemID string) summarizer.Summary {
	return summarizer.Summary{Overview: "summary of " + itemID, Sentiment: "neutral", Model: "stub"}
}

func (s *stubSummarizer) Summarize(_ context.Context, itemID string, _ json.RawMessage) (summarizer.Summary, error) {
	s.mu.Lock()
	s.calls[itemID]++
	call := s.calls[itemID]
	s.order = append(s.order, itemID)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(itemID, call)
	}
	return okSummary(itemID), nil
}

func (s *stubSummarizer) callCount(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[itemID]
}

func (s *stubSummarizer) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type fixture struct {
	sched       *scheduler.Scheduler
	store       *registry.Store
	checkpoints *checkpoint.Store
}

func newFixture(t *testing.T, stub scheduler.Summarizer, cfgOpts []testsupport.ConfigOption, opts ...scheduler.Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	store := testsupport.MustOpenStore(t, cfg)
	checkpoints, err := checkpoint.NewStore(cfg.Paths.CheckpointDir)
	if err != nil {
		t.Fatalf("checkpoint.NewStore: %v", err)
	}
	opts = append(opts, scheduler.WithBatchID("test-batch"))
	return &fixture{
		sched:       scheduler.New(cfg, store, checkpoints, stub, opts...),
		store:       store,
		checkpoints: checkpoints,
	}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(f.sched.Stop)
}

func (f *fixture) scrape(t *testing.T, itemID string) {
	t.Helper()
	payload := json.RawMessage(fmt.Sprintf(`{"content":{"text":"body of %s"}}`, itemID))
	if err := f.sched.OnItemScraped(context.Background(), itemID, payload); err != nil {
		t.Fatalf("OnItemScraped(%s): %v", itemID, err)
	}
}

func (f *fixture) waitDone(t *testing.T, timeout time.Duration) {
	t.Helper()
	done, err := f.sched.WaitForCompletion(context.Background(), timeout)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if !done {
		states, _ := f.sched.ItemStates(context.Background())
		t.Fatalf("batch did not finish within %s: %v", timeout, states)
	}
}

func (f *fixture) mustStatus(t *testing.T, itemID string, want registry.Status) *registry.Item {
	t.Helper()
	item, err := f.store.Get(context.Background(), itemID)
	if err != nil {
		t.Fatalf("Get(%s): %v", itemID, err)
	}
	if item == nil {
		t.Fatalf("item %s not found", itemID)
	}
	if item.Status != want {
		t.Fatalf("item %s: status %s, want %s (error=%q)", itemID, item.Status, want, item.ErrorMessage)
	}
	return item
}

func TestBatchOfTwoCompletes(t *testing.T) {
	stub := newStubSummarizer(nil)
	f := newFixture(t, stub, nil)
	testsupport.RegisterItems(t, f.store, "item-a", "item-b")
	f.start(t)

	f.scrape(t, "item-a")
	f.scrape(t, "item-b")
	f.waitDone(t, 5*time.Second)

	f.mustStatus(t, "item-a", registry.StatusCompleted)
	f.mustStatus(t, "item-b", registry.StatusCompleted)

	data, err := f.sched.SummarizedData(context.Background())
	if err != nil {
		t.Fatalf("SummarizedData: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(data))
	}
	var parsed summarizer.Summary
	if err := json.Unmarshal(data["item-a"], &parsed); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if parsed.Overview != "summary of item-a" {
		t.Fatalf("unexpected summary: %+v", parsed)
	}

	for _, id := range []string{"item-a", "item-b"} {
		key := checkpoint.Key{BatchID: "test-batch", Source: "unknown", ItemID: id}
		if !f.checkpoints.HasScraped(key) {
			t.Fatalf("missing scraped artifact for %s", id)
		}
		if !f.checkpoints.HasComplete(key) {
			t.Fatalf("missing complete artifact for %s", id)
		}
	}
}

func TestTransientFailuresRetryUntilSuccess(t *testing.T) {
	stub := newStubSummarizer(func(itemID string, call int) (summarizer.Summary, error) {
		if call < 3 {
			return summarizer.Summary{}, services.Wrap(services.ErrTransient, "summarizer", "summarize", "http 503", nil)
		}
		return okSummary(itemID), nil
	})

	var mu sync.Mutex
	var events []scheduler.Event
	f := newFixture(t, stub, []testsupport.ConfigOption{testsupport.WithMaxRetries(3)},
		scheduler.WithProgressFunc(func(event scheduler.Event) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		}),
	)
	testsupport.RegisterItems(t, f.store, "flaky")
	f.start(t)

	f.scrape(t, "flaky")
	f.waitDone(t, 5*time.Second)

	item := f.mustStatus(t, "flaky", registry.StatusCompleted)
	if item.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", item.Attempts)
	}
	if stub.callCount("flaky") != 3 {
		t.Fatalf("expected 3 summarizer calls, got %d", stub.callCount("flaky"))
	}

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[registry.Status]int)
	for _, event := range events {
		seen[event.Status]++
	}
	for _, status := range []registry.Status{registry.StatusScraped, registry.StatusQueued, registry.StatusSummarizing, registry.StatusCompleted} {
		if seen[status] != 1 {
			t.Fatalf("expected exactly one %s event, got %d (events: %+v)", status, seen[status], events)
		}
	}
	last := events[len(events)-1]
	if last.Status != registry.StatusCompleted || last.Attempt != 3 {
		t.Fatalf("final event should be completion after 3 attempts, got %+v", last)
	}
}

func TestRetryBudgetExhaustedFailsItem(t *testing.T) {
	stub := newStubSummarizer(func(itemID string, call int) (summarizer.Summary, error) {
		if itemID == "doomed" {
			return summarizer.Summary{}, services.Wrap(services.ErrTransient, "summarizer", "summarize", "http 429", nil)
		}
		return okSummary(itemID), nil
	})
	f := newFixture(t, stub, []testsupport.ConfigOption{testsupport.WithMaxRetries(2)})
	testsupport.RegisterItems(t, f.store, "doomed", "healthy")
	f.start(t)

	f.scrape(t, "doomed")
	f.scrape(t, "healthy")
	f.waitDone(t, 5*time.Second)

	doomed := f.mustStatus(t, "doomed", registry.StatusFailed)
	if doomed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", doomed.Attempts)
	}
	if !strings.Contains(doomed.ErrorMessage, "http 429") {
		t.Fatalf("error message should carry the last failure, got %q", doomed.ErrorMessage)
	}
	f.mustStatus(t, "healthy", registry.StatusCompleted)

	// The failure leaves the scraped artifact as the only checkpoint.
	key := checkpoint.Key{BatchID: "test-batch", Source: "unknown", ItemID: "doomed"}
	if !f.checkpoints.HasScraped(key) {
		t.Fatal("scraped artifact should survive the failure")
	}
	if f.checkpoints.HasComplete(key) {
		t.Fatal("failed item must not have a complete artifact")
	}

	data, err := f.sched.SummarizedData(context.Background())
	if err != nil {
		t.Fatalf("SummarizedData: %v", err)
	}
	if _, ok := data["doomed"]; ok {
		t.Fatal("failed item must not appear in summarized data")
	}
}

func TestPermanentErrorDoesNotRetry(t *testing.T) {
	stub := newStubSummarizer(func(string, int) (summarizer.Summary, error) {
		return summarizer.Summary{}, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "http 400", nil)
	})
	f := newFixture(t, stub, []testsupport.ConfigOption{testsupport.WithMaxRetries(5)})
	testsupport.RegisterItems(t, f.store, "rejected")
	f.start(t)

	f.scrape(t, "rejected")
	f.waitDone(t, 5*time.Second)

	item := f.mustStatus(t, "rejected", registry.StatusFailed)
	if item.Attempts != 1 {
		t.Fatalf("permanent failure should not be retried, got %d attempts", item.Attempts)
	}
}

func TestItemsSummarizedInQueueOrder(t *testing.T) {
	stub := newStubSummarizer(nil)
	f := newFixture(t, stub, nil)
	testsupport.RegisterItems(t, f.store, "item-c", "item-a", "item-b")

	// Queue everything before the worker starts so ordering is decided
	// purely by queue position.
	f.scrape(t, "item-c")
	f.scrape(t, "item-a")
	f.scrape(t, "item-b")
	f.start(t)
	f.waitDone(t, 5*time.Second)

	order := stub.callOrder()
	want := []string{"item-c", "item-a", "item-b"}
	if len(order) != len(want) {
		t.Fatalf("call order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("call order %v, want %v", order, want)
		}
	}
}

func TestWaitForCompletionTimesOut(t *testing.T) {
	stub := newStubSummarizer(nil)
	f := newFixture(t, stub, nil)
	testsupport.RegisterItems(t, f.store, "never-scraped")
	f.start(t)

	done, err := f.sched.WaitForCompletion(context.Background(), 150*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if done {
		t.Fatal("expected timeout while an item is still pending")
	}
}

func TestCancelBeforeSummarization(t *testing.T) {
	stub := newStubSummarizer(nil)
	f := newFixture(t, stub, nil)
	testsupport.RegisterItems(t, f.store, "queued-item", "pending-item")
	f.scrape(t, "queued-item")

	for _, id := range []string{"queued-item", "pending-item"} {
		cancelled, err := f.sched.Cancel(context.Background(), id)
		if err != nil {
			t.Fatalf("Cancel(%s): %v", id, err)
		}
		if !cancelled {
			t.Fatalf("Cancel(%s) should succeed before summarization", id)
		}
		f.mustStatus(t, id, registry.StatusCancelled)
	}

	f.start(t)
	f.waitDone(t, 5*time.Second)
	if stub.callCount("queued-item") != 0 {
		t.Fatal("cancelled item must never reach the summarizer")
	}
}

func TestCancelDuringSummarizationDiscardsSummary(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	stub := newStubSummarizer(func(itemID string, _ int) (summarizer.Summary, error) {
		close(started)
		<-release
		return okSummary(itemID), nil
	})
	f := newFixture(t, stub, nil)
	testsupport.RegisterItems(t, f.store, "in-flight")
	f.start(t)
	f.scrape(t, "in-flight")

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("summarization never started")
	}

	cancelled, err := f.sched.Cancel(context.Background(), "in-flight")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("advisory cancel should be accepted while summarizing")
	}
	close(release)

	f.waitDone(t, 5*time.Second)
	f.mustStatus(t, "in-flight", registry.StatusCancelled)

	data, err := f.sched.SummarizedData(context.Background())
	if err != nil {
		t.Fatalf("SummarizedData: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("cancelled item's summary must be discarded, got %v", data)
	}
	key := checkpoint.Key{BatchID: "test-batch", Source: "unknown", ItemID: "in-flight"}
	if f.checkpoints.HasComplete(key) {
		t.Fatal("cancelled item must not have a complete artifact")
	}
}

func TestPendingTimeoutFailsSilentItems(t *testing.T) {
	stub := newStubSummarizer(nil)
	f := newFixture(t, stub, []testsupport.ConfigOption{testsupport.WithPendingTimeout(1)})
	testsupport.RegisterItems(t, f.store, "silent", "loud")
	f.start(t)
	f.scrape(t, "loud")

	f.waitDone(t, 10*time.Second)
	f.mustStatus(t, "loud", registry.StatusCompleted)
	silent := f.mustStatus(t, "silent", registry.StatusFailed)
	if silent.ErrorMessage == "" {
		t.Fatal("timed-out item should record a reason")
	}
}

func TestStartTwiceRejected(t *testing.T) {
	stub := newStubSummarizer(nil)
	f := newFixture(t, stub, nil)
	f.start(t)
	if err := f.sched.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}
