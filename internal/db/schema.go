package db

import (
	"database/sql"
	"fmt"
)

// setupSchema creates the required tables and indexes if they don't exist
func setupSchema(client *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'client',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sites (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			owner_id TEXT REFERENCES users(id),
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token_hash TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS daily_metrics (
			id SERIAL PRIMARY KEY,
			site_id TEXT NOT NULL REFERENCES sites(id),
			date DATE NOT NULL,
			clicks INTEGER NOT NULL DEFAULT 0,
			impressions INTEGER NOT NULL DEFAULT 0,
			ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
			position DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (site_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS page_metrics (
			id SERIAL PRIMARY KEY,
			site_id TEXT NOT NULL REFERENCES sites(id),
			date DATE NOT NULL,
			page TEXT NOT NULL,
			clicks INTEGER NOT NULL DEFAULT 0,
			impressions INTEGER NOT NULL DEFAULT 0,
			ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
			position DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (site_id, date, page)
		)`,
		`CREATE TABLE IF NOT EXISTS query_metrics (
			id SERIAL PRIMARY KEY,
			site_id TEXT NOT NULL REFERENCES sites(id),
			date DATE NOT NULL,
			query TEXT NOT NULL,
			clicks INTEGER NOT NULL DEFAULT 0,
			impressions INTEGER NOT NULL DEFAULT 0,
			ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
			position DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (site_id, date, query)
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_reports (
			id TEXT PRIMARY KEY,
			site_id TEXT NOT NULL REFERENCES sites(id),
			period_start DATE NOT NULL,
			period_end DATE NOT NULL,
			total_clicks INTEGER NOT NULL DEFAULT 0,
			total_impressions INTEGER NOT NULL DEFAULT 0,
			average_ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
			average_position DOUBLE PRECISION NOT NULL DEFAULT 0,
			clicks_change DOUBLE PRECISION NOT NULL DEFAULT 0,
			impressions_change DOUBLE PRECISION NOT NULL DEFAULT 0,
			ctr_change DOUBLE PRECISION NOT NULL DEFAULT 0,
			position_change DOUBLE PRECISION NOT NULL DEFAULT 0,
			top_pages JSONB,
			top_queries JSONB,
			insights TEXT,
			recommendations TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (site_id, period_start, period_end)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'MEDIUM',
			status TEXT NOT NULL DEFAULT 'PENDING',
			due_date DATE,
			week_start_date DATE,
			week_end_date DATE,
			is_ai_generated BOOLEAN NOT NULL DEFAULT FALSE,
			assigned_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS api_usage (
			id SERIAL PRIMARY KEY,
			provider TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_metrics_site_date ON daily_metrics (site_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_page_metrics_site_date ON page_metrics (site_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_query_metrics_site_date ON query_metrics (site_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_week ON tasks (user_id, week_start_date)`,
		// Duplicate-batch guard for parallel task fan-out: at most one
		// AI-generated batch per user per week even without transactions.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_ai_batch ON tasks (user_id, week_start_date, title) WHERE is_ai_generated`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := client.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}
