// Package mailer delivers finished reports to clients by email via the
// Loops.so transactional API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	loopsBaseURL   = "https://app.loops.so/api/v1"
	defaultTimeout = 10 * time.Second
)

// LoopsClient is a minimal Loops.so API client.
type LoopsClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewLoopsClient creates a client with the given API key.
func NewLoopsClient(apiKey string) *LoopsClient {
	return &LoopsClient{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// TransactionalRequest contains the fields for sending a transactional email.
type TransactionalRequest struct {
	// Email is the recipient's email address (required).
	Email string `json:"email"`
	// TransactionalID is the template ID from the Loops dashboard (required).
	TransactionalID string `json:"transactionalId"`
	// DataVariables are template variables to inject into the email (optional).
	DataVariables map[string]any `json:"dataVariables,omitempty"`
	// IdempotencyKey prevents duplicate sends within 24 hours (optional).
	IdempotencyKey string `json:"-"`
}

// SendTransactional sends a transactional email via the Loops API.
func (c *LoopsClient) SendTransactional(ctx context.Context, req *TransactionalRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("loops: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, loopsBaseURL+"/transactional", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("loops: failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	return c.do(httpReq)
}

// EventRequest contains the fields for sending an event.
type EventRequest struct {
	// Email is the contact's email address (required if UserID not set).
	Email string `json:"email,omitempty"`
	// UserID is the contact's user ID (required if Email not set).
	UserID string `json:"userId,omitempty"`
	// EventName is the name of the event to trigger (required).
	EventName string `json:"eventName"`
	// EventProperties are custom properties for the event (optional).
	EventProperties map[string]any `json:"eventProperties,omitempty"`
}

// SendEvent sends an event to trigger automations in Loops.
func (c *LoopsClient) SendEvent(ctx context.Context, req *EventRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("loops: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, loopsBaseURL+"/events/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("loops: failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	return c.do(httpReq)
}

// APIError represents an error response from the Loops API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("loops: API error %d: %s", e.StatusCode, e.Message)
}

func (c *LoopsClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *LoopsClient) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loops: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	// Parse structured error if available
	var apiResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiResp) == nil && apiResp.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
