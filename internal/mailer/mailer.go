package mailer

import (
	"context"
	"fmt"
	"os"
	"strings"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/report"
)

var verifier = emailverifier.NewVerifier()

// Sender is the Loops API surface the mailer consumes.
type Sender interface {
	SendTransactional(ctx context.Context, req *TransactionalRequest) error
	SendEvent(ctx context.Context, req *EventRequest) error
}

// EventReportDelivered is fired after each report email so Loops
// automations (follow-up sequences, engagement nudges) can key off
// delivery.
const EventReportDelivered = "weekly_report_delivered"

// Mailer delivers report summary emails to clients.
type Mailer struct {
	sender          Sender
	transactionalID string
	dashboardURL    string
}

// NewFromEnv builds a mailer from LOOPS_API_KEY, LOOPS_REPORT_TEMPLATE_ID
// and DASHBOARD_URL. A missing API key disables delivery rather than
// erroring so the service runs without email configured.
func NewFromEnv() *Mailer {
	apiKey := os.Getenv("LOOPS_API_KEY")
	if apiKey == "" {
		log.Info().Msg("LOOPS_API_KEY not set, email delivery disabled")
		return &Mailer{}
	}
	return &Mailer{
		sender:          NewLoopsClient(apiKey),
		transactionalID: os.Getenv("LOOPS_REPORT_TEMPLATE_ID"),
		dashboardURL:    os.Getenv("DASHBOARD_URL"),
	}
}

// New creates a mailer with an explicit sender, used in tests.
func New(sender Sender, transactionalID, dashboardURL string) *Mailer {
	return &Mailer{sender: sender, transactionalID: transactionalID, dashboardURL: dashboardURL}
}

// Enabled reports whether a sender is configured.
func (m *Mailer) Enabled() bool {
	return m.sender != nil && m.transactionalID != ""
}

// SendReport emails the report summary to the given user. The recipient
// address is syntax-checked before the API call; invalid addresses fail
// fast without spending an API request.
func (m *Mailer) SendReport(ctx context.Context, user *db.User, result *report.Result) error {
	if !m.Enabled() {
		return nil
	}

	if addr := strings.TrimSpace(user.Email); addr == "" {
		return fmt.Errorf("user %s has no email address", user.ID)
	}
	verification, err := verifier.Verify(user.Email)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Email verifier failed, sending anyway")
	} else if !verification.Syntax.Valid {
		return fmt.Errorf("invalid email address for user %s", user.ID)
	}

	c := result.Comparison
	req := &TransactionalRequest{
		Email:           user.Email,
		TransactionalID: m.transactionalID,
		DataVariables: map[string]any{
			"siteName":          result.Site.Name,
			"periodStart":       result.Report.PeriodStart.Format("2 Jan 2006"),
			"periodEnd":         result.Report.PeriodEnd.Format("2 Jan 2006"),
			"totalClicks":       result.Report.TotalClicks,
			"totalImpressions":  result.Report.TotalImpressions,
			"clicksChange":      fmt.Sprintf("%+.1f%%", c.ClicksChange),
			"impressionsChange": fmt.Sprintf("%+.1f%%", c.ImpressionsChange),
			"positionChange":    fmt.Sprintf("%+.1f", c.PositionChange),
			"insights":          result.Report.Insights,
			"dashboardUrl":      m.dashboardURL,
		},
		// One send per user per report period.
		IdempotencyKey: fmt.Sprintf("report-%s-%s-%s", user.ID, result.Site.ID, result.Report.PeriodStart.Format("2006-01-02")),
	}

	if err := m.sender.SendTransactional(ctx, req); err != nil {
		return fmt.Errorf("failed to send report email to user %s: %w", user.ID, err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("site_id", result.Site.ID).
		Msg("Report email sent")

	// The event is advisory; a failure never fails the delivery.
	event := &EventRequest{
		Email:     user.Email,
		EventName: EventReportDelivered,
		EventProperties: map[string]any{
			"siteId":      result.Site.ID,
			"siteName":    result.Site.Name,
			"periodStart": result.Report.PeriodStart.Format("2006-01-02"),
		},
	}
	if err := m.sender.SendEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to fire report delivered event")
	}
	return nil
}

// SendStoredReport is a thin variant for the notification listener,
// which only has the stored report row rather than a full generation
// result.
func (m *Mailer) SendStoredReport(ctx context.Context, user *db.User, site *db.Site, r *db.WeeklyReport) error {
	res := &report.Result{
		Report: r,
		Site:   site,
		Comparison: metrics.ComparisonMetrics{
			ClicksChange:      r.ClicksChange,
			ImpressionsChange: r.ImpressionsChange,
			CtrChange:         r.CtrChange,
			PositionChange:    r.PositionChange,
		},
	}
	return m.SendReport(ctx, user, res)
}
