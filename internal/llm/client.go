// Package llm is an OpenAI-compatible chat completions client. The
// title/summary and memory extraction jobs drive it with single-prompt
// requests.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chronicleaudio/chronicle/internal/adapters/circuitbreaker"
	"github.com/chronicleaudio/chronicle/internal/adapters/metrics"
	"github.com/chronicleaudio/chronicle/internal/adapters/retry"
	"github.com/chronicleaudio/chronicle/internal/domain"
)

// ChatMessage represents a message in the OpenAI chat format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

// ChatCompletionRequest represents the request to the chat completions API
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatCompletionResponse represents the response from the chat completions API
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client is an OpenAI-compatible LLM client
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient creates a new LLM client
func NewClient(baseURL, apiKey, model string, maxTokens int, temperature float64) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		retryConfig: retry.DefaultConfig(),
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends a single-prompt completion and returns the text of the
// first choice, with any reasoning markup stripped.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if temperature < 0 {
		temperature = c.temperature
	}

	messages := []ChatMessage{{Role: "user", Content: prompt}}

	var resp *ChatCompletionResponse
	started := time.Now()
	err := c.breaker.Execute(func() error {
		var chatErr error
		resp, chatErr = c.chat(ctx, messages, temperature)
		return chatErr
	})
	metrics.LLMRequestDuration.WithLabelValues(c.model).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.model, "error").Inc()
		if err == circuitbreaker.ErrCircuitOpen {
			return "", fmt.Errorf("%w: circuit open", domain.ErrLLMUnavailable)
		}
		return "", err
	}
	metrics.LLMRequestsTotal.WithLabelValues(c.model, "ok").Inc()

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", domain.ErrLLMUnavailable)
	}

	return StripThinking(resp.Choices[0].Message.Content), nil
}

func (c *Client) chat(ctx context.Context, messages []ChatMessage, temperature float64) (*ChatCompletionResponse, error) {
	req := ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: temperature,
		Stream:      false,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	var statusCode int

	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}

		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return statusCode, fmt.Errorf("failed to read body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return statusCode, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
		}

		return statusCode, nil
	})

	if err != nil {
		return nil, err
	}

	var response ChatCompletionResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

// StripThinking removes <think>...</think> blocks that reasoning models
// emit before their answer, plus surrounding whitespace.
func StripThinking(text string) string {
	for {
		start := strings.Index(text, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], "</think>")
		if end == -1 {
			// Unterminated block, drop everything from the tag on.
			text = text[:start]
			break
		}
		text = text[:start] + text[start+end+len("</think>"):]
	}
	return strings.TrimSpace(text)
}
