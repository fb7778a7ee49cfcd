package db

import (
	"context"
	"fmt"
	"time"
)

// API providers recorded in the usage audit.
const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
)

// APIUsage is one audit row per outbound call to an external API.
// Write-only telemetry: the reporting pipeline never reads it back.
type APIUsage struct {
	Provider     string    `json:"provider"`
	Endpoint     string    `json:"endpoint"`
	Success      bool      `json:"success"`
	TokensUsed   int       `json:"tokens_used"`
	CostEstimate float64   `json:"cost_estimate"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordAPIUsage appends one audit row for an outbound API call
func (d *DB) RecordAPIUsage(ctx context.Context, u *APIUsage) error {
	query := `
		INSERT INTO api_usage (provider, endpoint, success, tokens_used, cost_estimate, error)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`
	if _, err := d.client.ExecContext(ctx, query,
		u.Provider, u.Endpoint, u.Success, u.TokensUsed, u.CostEstimate, u.Error); err != nil {
		return fmt.Errorf("failed to record API usage: %w", err)
	}
	return nil
}
