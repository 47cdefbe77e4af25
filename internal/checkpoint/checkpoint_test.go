package checkpoint_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"digest/internal/checkpoint"
)

func newStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoints"))
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	return store
}

func TestScrapedThenCompleteArtifacts(t *testing.T) {
	store := newStore(t)
	key := checkpoint.Key{BatchID: "batch-1", Source: "hackernews", ItemID: "item-42"}

	if store.HasScraped(key) || store.HasComplete(key) {
		t.Fatal("fresh store should hold no artifacts")
	}

	payload := json.RawMessage(`{"content":{"text":"hello"}}`)
	if err := store.WriteScraped(key, payload); err != nil {
		t.Fatalf("WriteScraped returned error: %v", err)
	}
	if !store.HasScraped(key) {
		t.Fatal("scraped artifact should exist after WriteScraped")
	}
	if store.HasComplete(key) {
		t.Fatal("complete artifact should not exist yet")
	}

	scraped, err := store.ReadScraped(key)
	if err != nil {
		t.Fatalf("ReadScraped returned error: %v", err)
	}
	if scraped == nil {
		t.Fatal("expected scraped artifact")
	}
	if scraped.ItemID != "item-42" || scraped.BatchID != "batch-1" || scraped.Source != "hackernews" {
		t.Fatalf("unexpected scraped artifact identity: %+v", scraped)
	}
	if string(scraped.Payload) != string(payload) {
		t.Fatalf("payload round-trip mismatch: %s", scraped.Payload)
	}
	if scraped.ScrapedAt.IsZero() {
		t.Fatal("scraped artifact should carry a timestamp")
	}

	summary := json.RawMessage(`{"overview":"a greeting"}`)
	if err := store.WriteComplete(key, payload, summary); err != nil {
		t.Fatalf("WriteComplete returned error: %v", err)
	}
	complete, err := store.ReadComplete(key)
	if err != nil {
		t.Fatalf("ReadComplete returned error: %v", err)
	}
	if complete == nil {
		t.Fatal("expected complete artifact")
	}
	if string(complete.Summary) != string(summary) {
		t.Fatalf("summary round-trip mismatch: %s", complete.Summary)
	}
}

func TestScrapedArtifactSurvivesWithoutComplete(t *testing.T) {
	store := newStore(t)
	key := checkpoint.Key{BatchID: "batch-7", Source: "reddit", ItemID: "item-9"}

	if err := store.WriteScraped(key, json.RawMessage(`{"content":{"text":"doomed"}}`)); err != nil {
		t.Fatalf("WriteScraped returned error: %v", err)
	}

	// Summarization failing after the first checkpoint leaves exactly one
	// artifact behind, which is what resumption keys off.
	if !store.HasScraped(key) {
		t.Fatal("scraped artifact must survive a failed summarization")
	}
	if store.HasComplete(key) {
		t.Fatal("complete artifact must not exist for a failed item")
	}

	complete, err := store.ReadComplete(key)
	if err != nil {
		t.Fatalf("ReadComplete returned error: %v", err)
	}
	if complete != nil {
		t.Fatal("ReadComplete should return nil for a missing artifact")
	}
}

func TestArtifactNamesAreSanitized(t *testing.T) {
	store := newStore(t)
	key := checkpoint.Key{BatchID: "batch 1", Source: "web/spider", ItemID: "https://example.com/a?b=1"}

	if err := store.WriteScraped(key, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("WriteScraped returned error: %v", err)
	}

	path := store.ScrapedPath(key)
	base := filepath.Base(path)
	if strings.ContainsAny(base, "/ ?") {
		t.Fatalf("artifact name should be sanitized, got %q", base)
	}
	if !strings.HasSuffix(base, "_scraped.json") {
		t.Fatalf("artifact name should end in _scraped.json, got %q", base)
	}
	if filepath.Dir(path) != store.Dir() {
		t.Fatalf("artifact escaped checkpoint directory: %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	store := newStore(t)
	key := checkpoint.Key{BatchID: "b", Source: "s", ItemID: "i"}

	if err := store.WriteScraped(key, json.RawMessage(`{"content":{}}`)); err != nil {
		t.Fatalf("WriteScraped returned error: %v", err)
	}
	if err := store.WriteComplete(key, json.RawMessage(`{}`), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("WriteComplete returned error: %v", err)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly two artifacts, got %d", len(entries))
	}
}
