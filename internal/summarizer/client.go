// Package summarizer asks an OpenAI-compatible chat completion endpoint to
// turn a call transcript into structured analysis. The reply is returned as
// free-form text; callers parse it leniently.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recovery-service/internal/util"
)

// ErrDisabled is returned when no summarizer endpoint is configured.
var ErrDisabled = errors.New("summarizer: disabled")

const systemPrompt = `You analyse phone calls placed to shoppers who abandoned a checkout.
Reply with a single JSON object and nothing else, using these keys:
"sentiment" (positive|neutral|negative), "tags" (array of short strings),
"objections" (array), "keyQuotes" (array), "issuesToFix" (array),
"reason" (why the shopper did not complete the purchase),
"nextAction" (what the merchant should do next), "followUp" (true|false),
"confidence" (0 to 1).`

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls the chat completions API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new summarizer client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize returns the model's raw reply for a transcript
func (c *Client) Summarize(ctx context.Context, transcript, endedReason string) (string, error) {
	if c == nil || c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return "", ErrDisabled
	}

	start := time.Now()
	defer func() {
		util.SummarizerLatency.Observe(time.Since(start).Seconds())
	}()

	user := "Ended reason: " + endedReason + "\n\nTranscript:\n" + transcript
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("summarizer returned %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode summarize response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("summarizer returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
