// Package api exposes the HTTP surface: report generation and
// retrieval, the dashboard summary, task management and session auth.
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/auth"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/report"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.1.0"

// DBClient is an interface for database operations
type DBClient interface {
	GetDB() *sql.DB

	GetUser(ctx context.Context, userID string) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	CreateUser(ctx context.Context, u *db.User) error

	CreateSession(ctx context.Context, s *db.Session) error
	GetSession(ctx context.Context, tokenHash string) (*db.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error

	GetSite(ctx context.Context, siteID string) (*db.Site, error)
	GetPrimarySiteForUser(ctx context.Context, userID string) (*db.Site, error)

	GetWeeklyReport(ctx context.Context, reportID string) (*db.WeeklyReport, error)
	GetLatestReportForSite(ctx context.Context, siteID string) (*db.WeeklyReport, error)

	ListTasksForUser(ctx context.Context, userID string, limit int) ([]*db.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID, status string) error
}

// ReportRunner runs one report generation end to end.
type ReportRunner interface {
	Generate(ctx context.Context, req report.Request) (*report.Result, error)
}

// Summarizer produces the dashboard's short narrative summary. It
// degrades internally and never returns an error.
type Summarizer interface {
	GenerateSummary(ctx context.Context, rc *ai.ReportContext) string
}

// Handler holds dependencies for API handlers
type Handler struct {
	DB          DBClient
	Reports     ReportRunner
	Summaries   Summarizer // optional
	ShareSecret []byte
}

// NewHandler creates a new API handler with dependencies
func NewHandler(database DBClient, reports ReportRunner, shareSecret []byte) *Handler {
	return &Handler{
		DB:          database,
		Reports:     reports,
		ShareSecret: shareSecret,
	}
}

// SetupRoutes configures all API routes with proper middleware
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	// Health check endpoints (no auth required)
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	// Report routes
	mux.HandleFunc("/v1/reports/generate", auth.RequireAdmin(h.DB, h.ReportsGenerate))
	mux.HandleFunc("/v1/reports/shared", h.SharedReport) // public, token-authenticated
	mux.HandleFunc("/v1/reports/", auth.RequireSession(h.DB, h.ReportHandler))

	// Dashboard route (requires auth)
	mux.HandleFunc("/v1/dashboard/summary", auth.RequireSession(h.DB, h.DashboardSummary))

	// Task routes (require auth)
	mux.HandleFunc("/v1/tasks", auth.RequireSession(h.DB, h.TasksList))
	mux.HandleFunc("/v1/tasks/", auth.RequireSession(h.DB, h.TaskUpdate))

	// Authentication routes (no auth middleware)
	mux.HandleFunc("/v1/auth/register", h.AuthRegister)
	mux.HandleFunc("/v1/auth/login", h.AuthLogin)
	mux.HandleFunc("/v1/auth/logout", h.AuthLogout)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, "seo-reporter", Version)
}

// DatabaseHealthCheck handles database health check requests
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", errNoDatabase)
		return
	}

	if err := h.DB.GetDB().PingContext(r.Context()); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteHealthy(w, r, "postgresql", "")
}
