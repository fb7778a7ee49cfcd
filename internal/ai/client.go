// Package ai wraps the OpenAI chat-completions API and turns aggregated
// search metrics into narrative insights with a deterministic fallback.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second

	// Rough blended output-token price used for the cost estimate on
	// usage audit rows. Audit-only, never billed from.
	costPerToken = 0.0000006
)

// Config holds OpenAI client configuration
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ConfigFromEnv reads client configuration from environment variables.
// A missing OPENAI_API_KEY is not an error: the client reports itself
// disabled and callers degrade to rule-based output.
func ConfigFromEnv() Config {
	return Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		Model:   os.Getenv("OPENAI_MODEL"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
	}
}

// Client is an HTTP client for OpenAI-compatible chat-completion APIs
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Completion is the result of one chat-completion call
type Completion struct {
	Text       string
	TokensUsed int
}

// NewClient creates a completion client from configuration
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Enabled reports whether an API key is configured. When false every
// completion call fails fast and callers use baseline output; this is an
// expected deployment mode, not an error.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one system+user prompt pair and returns the raw
// completion text with the token count reported by the API.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (*Completion, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("openai client disabled: no API key configured")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("completion API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("completion response contained no choices")
	}

	log.Debug().
		Str("model", c.model).
		Int("tokens_used", chatResp.Usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("Completion call finished")

	return &Completion{
		Text:       chatResp.Choices[0].Message.Content,
		TokensUsed: chatResp.Usage.TotalTokens,
	}, nil
}
