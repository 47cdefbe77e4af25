package summarizer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"digest/internal/services"
	"digest/internal/summarizer"
)

func completionBody(content string) string {
	type message struct {
		Content string `json:"content"`
	}
	type choice struct {
		Message message `json:"message"`
	}
	body, _ := json.Marshal(map[string]any{
		"choices": []choice{{Message: message{Content: content}}},
	})
	return string(body)
}

func TestSummarizeParsesStructuredResponse(t *testing.T) {
	var gotAuth string
	var gotRequest map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"overview":"A short article.","key_points":["one","two"],"sentiment":"Positive"}`)))
	}))
	defer server.Close()

	client := summarizer.NewClient("secret", summarizer.WithBaseURL(server.URL), summarizer.WithModel("test-model"))
	summary, err := client.Summarize(context.Background(), "item-1", json.RawMessage(`{"content":{"text":"hello"}}`))
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summary.Overview != "A short article." {
		t.Fatalf("unexpected overview: %q", summary.Overview)
	}
	if len(summary.KeyPoints) != 2 {
		t.Fatalf("unexpected key points: %v", summary.KeyPoints)
	}
	if summary.Sentiment != "positive" {
		t.Fatalf("sentiment should be lowercased, got %q", summary.Sentiment)
	}
	if summary.Model != "test-model" {
		t.Fatalf("model should default from client, got %q", summary.Model)
	}
	if summary.Raw == "" {
		t.Fatal("raw response should be preserved")
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotRequest["model"] != "test-model" {
		t.Fatalf("unexpected model in request: %v", gotRequest["model"])
	}
}

func TestSummarizeClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "upstream timeout", status: http.StatusRequestTimeout, transient: true},
		{name: "server error", status: http.StatusServiceUnavailable, transient: true},
		{name: "bad request", status: http.StatusBadRequest, transient: false},
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			client := summarizer.NewClient("secret", summarizer.WithBaseURL(server.URL))
			_, err := client.Summarize(context.Background(), "item-1", json.RawMessage(`{"content":{}}`))
			if err == nil {
				t.Fatal("expected error")
			}
			if services.IsTransient(err) != tc.transient {
				t.Fatalf("status %d: transient=%v, want %v (err=%v)", tc.status, services.IsTransient(err), tc.transient, err)
			}
		})
	}
}

func TestSummarizeTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := summarizer.NewClient("secret", summarizer.WithBaseURL(server.URL))
	_, err := client.Summarize(context.Background(), "item-1", json.RawMessage(`{"content":{}}`))
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if !services.IsTransient(err) {
		t.Fatalf("transport failure should be transient, got %v", err)
	}
}

func TestSummarizeMalformedContentIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionBody("not json at all")))
	}))
	defer server.Close()

	client := summarizer.NewClient("secret", summarizer.WithBaseURL(server.URL))
	_, err := client.Summarize(context.Background(), "item-1", json.RawMessage(`{"content":{}}`))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if services.IsTransient(err) {
		t.Fatalf("malformed content should be permanent, got %v", err)
	}
}

func TestSummarizeRequiresAPIKey(t *testing.T) {
	client := summarizer.NewClient("")
	_, err := client.Summarize(context.Background(), "item-1", json.RawMessage(`{"content":{}}`))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSummarizeRequiresPayload(t *testing.T) {
	client := summarizer.NewClient("secret")
	_, err := client.Summarize(context.Background(), "item-1", nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
