// Package remote is the fallback sink: a thin client for the hosted
// completion API used whenever the subprocess path is unavailable or fails.
// The API is treated as opaque; this client only knows enough of the wire
// shape to post a prompt and pull the text back out.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
)

// Client posts completion requests to the remote API. The API key is read
// from APIKeyEnv at call time; this is the very variable the broker scrubs
// from subprocess environments.
type Client struct {
	BaseURL   string
	Model     string
	MaxTokens int
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string
	HTTP      *http.Client
}

// New returns a Client with defaults filled in.
func New(baseURL, model, apiKeyEnv string, maxTokens int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		BaseURL:   baseURL,
		Model:     model,
		MaxTokens: maxTokens,
		APIKeyEnv: apiKeyEnv,
		HTTP:      &http.Client{Timeout: 120 * time.Second},
	}
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

// Complete posts prompt and returns the full completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.post(ctx, []contentBlock{{Type: "text", Text: prompt}})
}

// CompleteWithImage posts prompt plus an inline base64 image block.
func (c *Client) CompleteWithImage(ctx context.Context, prompt string, image []byte) (string, error) {
	blocks := []contentBlock{
		{Type: "image", Source: &imageSource{
			Type:      "base64",
			MediaType: http.DetectContentType(image),
			Data:      base64.StdEncoding.EncodeToString(image),
		}},
		{Type: "text", Text: prompt},
	}
	return c.post(ctx, blocks)
}

func (c *Client) post(ctx context.Context, blocks []contentBlock) (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("remote api key not set (%s)", c.APIKeyEnv)
	}
	body, err := json.Marshal(messagesRequest{
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		Messages:  []message{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("remote api http error: %s: %s", resp.Status, string(tail))
	}
	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return "", fmt.Errorf("remote api decode: %w", err)
	}
	var text string
	for _, blk := range mr.Content {
		if blk.Type == "text" {
			text += blk.Text
		}
	}
	return text, nil
}
