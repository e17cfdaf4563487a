// Package ollama wraps the Ollama API client for grounding generation:
// sending an image plus a grounding prompt to a vision model and returning
// the raw tagged text for the decode path.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultPrompt asks the model for a grounded description.
const DefaultPrompt = "<grounding> An image of"

// DefaultTimeout bounds one generation call when the caller's context has
// no deadline. Vision models on CPU can be slow.
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a client for the Ollama server at rawURL.
func NewClient(rawURL, model string) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}

	baseURL := &url.URL{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Ground sends the image and prompt to the vision model and returns the raw
// generated text, tags included. An empty prompt falls back to
// DefaultPrompt.
func (c *Client) Ground(ctx context.Context, prompt string, imageData []byte) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imageData)},
			},
		},
		Stream: &streamFalse,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	return responseContent, nil
}
