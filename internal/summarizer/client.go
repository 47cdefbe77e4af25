// Package summarizer wraps an OpenAI-compatible chat completion API and turns
// merged item payloads into structured summaries. Failures are tagged with
// the services markers so the scheduler can tell retryable failures from
// permanent ones.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"digest/internal/config"
	"digest/internal/services"
)

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultModel       = "google/gemini-3-flash-preview"
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 120 * time.Second
)

// Client calls a chat completion endpoint to summarize scraped content.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option customizes the summarizer client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default API base (useful for tests/mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithModel overrides the default model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		model = strings.TrimSpace(model)
		if model != "" {
			c.model = model
		}
	}
}

// NewClient constructs a summarizer client.
func NewClient(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.model == "" {
		client.model = defaultModel
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// NewFromConfig constructs a client from the summarizer config section.
func NewFromConfig(cfg *config.Config) *Client {
	timeout := time.Duration(cfg.Summarizer.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return NewClient(cfg.Summarizer.APIKey,
		WithBaseURL(cfg.Summarizer.BaseURL),
		WithModel(cfg.Summarizer.Model),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
}

// Summary captures the JSON payload returned by the model.
type Summary struct {
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"key_points"`
	Sentiment string   `json:"sentiment"`
	Model     string   `json:"model"`
	Raw       string   `json:"-"`
}

// Summarize sends the merged payload for one item and parses the structured
// summary out of the response.
func (c *Client) Summarize(ctx context.Context, itemID string, payload json.RawMessage) (Summary, error) {
	var empty Summary
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return empty, services.Wrap(services.ErrValidation, "summarizer", "summarize", "item id required", nil)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return empty, services.Wrap(services.ErrValidation, "summarizer", "summarize", "payload required", nil)
	}
	if c.apiKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, "summarizer", "summarize", "api key required", nil)
	}

	requestBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SummarizationPrompt},
			{Role: "user", Content: string(payload)},
		},
		Temperature: 0,
		ResponseFormat: map[string]string{
			"type": jsonResponseType,
		},
	}
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "encode request", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/chat/completions")
	if err != nil {
		return empty, services.Wrap(services.ErrConfiguration, "summarizer", "summarize", "build url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "request cancelled", err)
		}
		// Transport and timeout errors are worth another attempt.
		return empty, services.Wrap(services.ErrTransient, "summarizer", "summarize", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, "summarizer", "summarize", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return empty, services.Wrap(classifyStatus(resp.StatusCode), "summarizer", "summarize", detail, nil)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "decode response", err)
	}
	if completion.Error != nil {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize",
			"api error: "+strings.TrimSpace(completion.Error.Message), nil)
	}
	if len(completion.Choices) == 0 {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "empty choices", nil)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "empty content", nil)
	}

	var parsed Summary
	parsed.Raw = content
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "parse payload", err)
	}
	parsed.Overview = strings.TrimSpace(parsed.Overview)
	if parsed.Overview == "" {
		return empty, services.Wrap(services.ErrPermanent, "summarizer", "summarize", "summary missing overview", nil)
	}
	parsed.Sentiment = strings.ToLower(strings.TrimSpace(parsed.Sentiment))
	if parsed.Model == "" {
		parsed.Model = c.model
	}
	return parsed, nil
}

// classifyStatus separates rate limits, timeouts, and upstream outages from
// caller mistakes.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return services.ErrTransient
	case status >= http.StatusInternalServerError:
		return services.ErrTransient
	default:
		return services.ErrPermanent
	}
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
