package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"digest/internal/config"
	"digest/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyBatchStarted(context.Background(), "batch-1", 3); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.NotifyItemFailed(context.Background(), "item-1", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "batch started",
			notify: func(svc notifications.Service) error {
				return svc.NotifyBatchStarted(context.Background(), "morning-run", 12)
			},
			expectTitle:   "Digest - Batch Started",
			expectMessage: "Started batch morning-run with 12 items",
			expectTags:    "digest,batch,started",
		},
		{
			name: "item failed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyItemFailed(context.Background(), "item-9", "http 500 from upstream")
			},
			expectTitle:    "Digest - Item Failed",
			expectMessage:  "Summarization failed: item-9\nhttp 500 from upstream",
			expectTags:     "digest,item,failed",
			expectPriority: "high",
		},
		{
			name: "batch completed clean",
			notify: func(svc notifications.Service) error {
				return svc.NotifyBatchCompleted(context.Background(), "morning-run", 12, 0, 0, 90*time.Second)
			},
			expectTitle:   "Digest - Batch Complete",
			expectMessage: "Batch morning-run complete: 12 items summarized in 1m30s",
			expectTags:    "digest,batch,completed",
		},
		{
			name: "batch completed with failures",
			notify: func(svc notifications.Service) error {
				return svc.NotifyBatchCompleted(context.Background(), "morning-run", 10, 2, 1, 90*time.Second)
			},
			expectTitle:   "Digest - Batch Complete (with errors)",
			expectMessage: "Batch morning-run complete: 10 succeeded, 2 failed in 1m30s (1 cancelled)",
			expectTags:    "digest,batch,completed",
		},
		{
			name: "error",
			notify: func(svc notifications.Service) error {
				return svc.NotifyError(context.Background(), errors.New("registry unavailable"), "scheduler")
			},
			expectTitle:    "Digest - Error",
			expectMessage:  "Error with scheduler: registry unavailable",
			expectTags:     "digest,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Batch = true
			cfg.Notifications.Errors = true

			svc := notifications.NewService(&cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Batch = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyBatchStarted(context.Background(), "batch", 1); err != nil {
		t.Fatalf("expected no error for suppressed batch event, got %v", err)
	}
	if err := svc.NotifyItemFailed(context.Background(), "item", "reason"); err != nil {
		t.Fatalf("expected no error for suppressed failure event, got %v", err)
	}
	if err := svc.NotifyError(context.Background(), errors.New("x"), "ctx"); err != nil {
		t.Fatalf("expected no error for suppressed error event, got %v", err)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = true

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyItemFailed(context.Background(), "item", "reason"); err == nil {
		t.Fatal("expected error for non-2xx ntfy response")
	}
}
