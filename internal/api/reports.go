package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/auth"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/report"
)

var errNoDatabase = errors.New("database connection not configured")

// ReportGenerateRequest represents a report generation request
type ReportGenerateRequest struct {
	SiteID         string `json:"site_id"`
	Period         string `json:"period,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	IncludeMonthly bool   `json:"include_monthly,omitempty"`
}

// ReportsGenerate handles POST /v1/reports/generate
func (h *Handler) ReportsGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req ReportGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}
	if req.SiteID == "" {
		BadRequest(w, r, "site_id is required")
		return
	}

	genReq := report.Request{SiteID: req.SiteID, IncludeMonthly: req.IncludeMonthly}
	switch req.Period {
	case "", "week":
		genReq.Period = report.PeriodWeek
	case "month":
		genReq.Period = report.PeriodMonth
	default:
		BadRequest(w, r, "period must be week or month")
		return
	}

	if req.StartDate != "" || req.EndDate != "" {
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			BadRequest(w, r, "start_date must be YYYY-MM-DD")
			return
		}
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			BadRequest(w, r, "end_date must be YYYY-MM-DD")
			return
		}
		if end.Before(start) {
			BadRequest(w, r, "end_date must not precede start_date")
			return
		}
		genReq.StartDate = &start
		genReq.EndDate = &end
	}

	result, err := h.Reports.Generate(r.Context(), genReq)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Str("site_id", req.SiteID).Msg("Report generation failed")
		InternalError(w, r, err)
		return
	}

	WriteCreated(w, r, result, "Report generated")
}

// ReportHandler handles GET /v1/reports/:id and POST /v1/reports/:id/share
func (h *Handler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	if rest == "" {
		NotFound(w, r, "Report not found")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/share"); ok {
		h.shareReport(w, r, strings.TrimSuffix(id, "/"))
		return
	}

	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}
	h.getReport(w, r, rest)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request, reportID string) {
	rep, err := h.DB.GetWeeklyReport(r.Context(), reportID)
	if err != nil {
		NotFound(w, r, "Report not found")
		return
	}

	// Clients can only read reports for their own site.
	user, _ := auth.UserFromContext(r.Context())
	if user != nil && user.Role != db.RoleAdmin {
		site, err := h.DB.GetSite(r.Context(), rep.SiteID)
		if err != nil || site.OwnerID == nil || *site.OwnerID != user.ID {
			Forbidden(w, r, "You do not have access to this report")
			return
		}
	}

	WriteSuccess(w, r, rep, "")
}

func (h *Handler) shareReport(w http.ResponseWriter, r *http.Request, reportID string) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}
	if len(h.ShareSecret) == 0 {
		ServiceUnavailable(w, r, "Share links are not configured")
		return
	}

	if _, err := h.DB.GetWeeklyReport(r.Context(), reportID); err != nil {
		NotFound(w, r, "Report not found")
		return
	}

	token, err := auth.SignReportToken(h.ShareSecret, reportID, auth.DefaultShareLinkTTL)
	if err != nil {
		InternalError(w, r, err)
		return
	}

	WriteCreated(w, r, map[string]any{
		"token":      token,
		"expires_in": int(auth.DefaultShareLinkTTL.Seconds()),
	}, "Share link created")
}

// SharedReport handles GET /v1/reports/shared?token=...
// The share token is the only credential; no session is required.
func (h *Handler) SharedReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		BadRequest(w, r, "token is required")
		return
	}

	reportID, err := auth.ParseReportToken(h.ShareSecret, token)
	if err != nil {
		Unauthorised(w, r, "Invalid or expired share link")
		return
	}

	rep, err := h.DB.GetWeeklyReport(r.Context(), reportID)
	if err != nil {
		NotFound(w, r, "Report not found")
		return
	}

	WriteSuccess(w, r, rep, "")
}
