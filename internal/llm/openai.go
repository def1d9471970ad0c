// Package llm is the chat completion client behind the dialogue engine. It talks
// to any OpenAI compatible endpoint (OpenAI itself, Cerebras, a local gateway).
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/voiceloop/internal/dialogue"
)

// ErrNoChoices is returned when the endpoint answers without a completion.
var ErrNoChoices = errors.New("llm: empty choices")

type Client struct {
	api         *openai.Client
	apiKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// NewClient builds a completion client. An empty baseURL targets api.openai.com.
func NewClient(apiKey, baseURL, model string) *Client {
	return NewClientWithHTTP(apiKey, baseURL, model, &http.Client{Timeout: 30 * time.Second})
}

func NewClientWithHTTP(apiKey, baseURL, model string, hc *http.Client) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = hc
	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		apiKey:      apiKey,
		Model:       model,
		MaxTokens:   400,
		Temperature: 0.8,
	}
}

// Complete returns the raw assistant message, control marker included.
func (c *Client) Complete(ctx context.Context, messages []dialogue.Message) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("llm: api key missing")
	}
	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("llm: status=%d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
