package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/auth"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/metrics"
)

const defaultTaskListLimit = 20

var (
	errSiteNotFound  = errors.New("site not found")
	errSiteForbidden = errors.New("site access denied")
)

// dashboardSite resolves which site the summary covers. Having no
// primary site is not an error; the dashboard renders without one.
func (h *Handler) dashboardSite(r *http.Request, user *db.User) (*db.Site, error) {
	if siteID := r.URL.Query().Get("site_id"); siteID != "" {
		site, err := h.DB.GetSite(r.Context(), siteID)
		if err != nil {
			return nil, errSiteNotFound
		}
		if user.Role != db.RoleAdmin && (site.OwnerID == nil || *site.OwnerID != user.ID) {
			return nil, errSiteForbidden
		}
		return site, nil
	}

	site, err := h.DB.GetPrimarySiteForUser(r.Context(), user.ID)
	if err != nil {
		return nil, nil
	}
	return site, nil
}

// DashboardSummary handles GET /v1/dashboard/summary?site_id=.
// It bundles a site, its most recent report and the caller's open tasks
// into a single response. Without site_id the caller's primary site is
// used; with it, the site must belong to the caller unless they are an
// admin.
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		Unauthorised(w, r, "User information not found")
		return
	}

	summary := map[string]any{
		"user": user,
	}

	site, err := h.dashboardSite(r, user)
	if err != nil {
		switch err {
		case errSiteNotFound:
			NotFound(w, r, "Site not found")
		case errSiteForbidden:
			Forbidden(w, r, "You do not have access to this site")
		default:
			DatabaseError(w, r, err)
		}
		return
	}

	if site == nil {
		log.Debug().Str("user_id", user.ID).Msg("No primary site for dashboard")
	} else {
		summary["site"] = site

		if latest, err := h.DB.GetLatestReportForSite(r.Context(), site.ID); err != nil {
			log.Debug().Err(err).Str("site_id", site.ID).Msg("No reports for dashboard")
		} else {
			summary["latest_report"] = latest

			if h.Summaries != nil {
				summary["summary"] = h.Summaries.GenerateSummary(r.Context(), &ai.ReportContext{
					SiteName:    site.Name,
					SiteURL:     site.URL,
					PeriodStart: latest.PeriodStart.Format("2006-01-02"),
					PeriodEnd:   latest.PeriodEnd.Format("2006-01-02"),
					Comparison: metrics.ComparisonMetrics{
						Current: metrics.PeriodMetrics{
							TotalClicks:      latest.TotalClicks,
							TotalImpressions: latest.TotalImpressions,
							AverageCtr:       latest.AverageCtr,
							AveragePosition:  latest.AveragePosition,
						},
						ClicksChange:      latest.ClicksChange,
						ImpressionsChange: latest.ImpressionsChange,
						CtrChange:         latest.CtrChange,
						PositionChange:    latest.PositionChange,
					},
				})
			}
		}
	}

	tasks, err := h.DB.ListTasksForUser(r.Context(), user.ID, defaultTaskListLimit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}
	summary["tasks"] = tasks

	WriteSuccess(w, r, summary, "")
}

// TasksList handles GET /v1/tasks
func (h *Handler) TasksList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		Unauthorised(w, r, "User information not found")
		return
	}

	limit := defaultTaskListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			BadRequest(w, r, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	tasks, err := h.DB.ListTasksForUser(r.Context(), user.ID, limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]any{"tasks": tasks}, "")
}

// TaskUpdateRequest represents a task status update
type TaskUpdateRequest struct {
	Status string `json:"status"`
}

// TaskUpdate handles PATCH /v1/tasks/:id
func (h *Handler) TaskUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		MethodNotAllowed(w, r)
		return
	}

	taskID := r.URL.Path[len("/v1/tasks/"):]
	if taskID == "" {
		NotFound(w, r, "Task not found")
		return
	}

	var req TaskUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}

	switch req.Status {
	case db.TaskStatusPending, db.TaskStatusInProgress, db.TaskStatusCompleted:
	default:
		BadRequest(w, r, "status must be PENDING, IN_PROGRESS or COMPLETED")
		return
	}

	if err := h.DB.UpdateTaskStatus(r.Context(), taskID, req.Status); err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]any{"id": taskID, "status": req.Status}, "Task updated")
}
