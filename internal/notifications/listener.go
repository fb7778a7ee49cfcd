package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/db"
)

const reportReadyChannel = "report_ready"

// DispatcherDB defines the database operations the dispatcher needs to
// turn a report ID into deliverable content.
type DispatcherDB interface {
	GetWeeklyReport(ctx context.Context, reportID string) (*db.WeeklyReport, error)
	GetSite(ctx context.Context, siteID string) (*db.Site, error)
	GetUser(ctx context.Context, userID string) (*db.User, error)
}

// EmailChannel sends the stored report to a user by email.
type EmailChannel interface {
	Enabled() bool
	SendStoredReport(ctx context.Context, user *db.User, site *db.Site, r *db.WeeklyReport) error
}

// Dispatcher delivers a ready report to every configured channel.
// Channel failures are independent; one failing channel never blocks
// the others.
type Dispatcher struct {
	db    DispatcherDB
	email EmailChannel
	slack *SlackNotifier
}

// NewDispatcher creates a dispatcher. email and slack may be nil.
func NewDispatcher(database DispatcherDB, email EmailChannel, slack *SlackNotifier) *Dispatcher {
	return &Dispatcher{db: database, email: email, slack: slack}
}

// Dispatch delivers the report identified by reportID.
func (d *Dispatcher) Dispatch(ctx context.Context, reportID string) error {
	report, err := d.db.GetWeeklyReport(ctx, reportID)
	if err != nil {
		return fmt.Errorf("failed to load report %s for delivery: %w", reportID, err)
	}
	site, err := d.db.GetSite(ctx, report.SiteID)
	if err != nil {
		return fmt.Errorf("failed to load site %s for delivery: %w", report.SiteID, err)
	}

	if d.email != nil && d.email.Enabled() && site.OwnerID != nil {
		if owner, err := d.db.GetUser(ctx, *site.OwnerID); err != nil {
			log.Warn().Err(err).Str("site_id", site.ID).Msg("Failed to load site owner, skipping email delivery")
		} else if err := d.email.SendStoredReport(ctx, owner, site, report); err != nil {
			log.Warn().Err(err).Str("report_id", reportID).Msg("Email delivery failed")
		}
	}

	if d.slack != nil {
		if err := d.slack.NotifyReport(ctx, site, report); err != nil {
			log.Warn().Err(err).Str("report_id", reportID).Msg("Slack delivery failed")
		}
	}

	return nil
}

// Listener listens for report-ready Postgres notifications and triggers
// delivery.
type Listener struct {
	connStr    string
	dispatcher *Dispatcher
}

// NewListener creates a notification listener.
// Returns nil if dispatcher is nil to prevent nil pointer dereferences.
func NewListener(connStr string, dispatcher *Dispatcher) *Listener {
	if dispatcher == nil {
		log.Error().Msg("Cannot create report listener: dispatcher is nil")
		return nil
	}
	return &Listener{connStr: connStr, dispatcher: dispatcher}
}

// Start begins listening. The loop reconnects on failure and only exits
// when the context is cancelled.
func (l *Listener) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Report listener stopped")
			return
		default:
			if err := l.listen(ctx); err != nil {
				log.Warn().Err(err).Msg("Report listener error, retrying in 5s")
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
					continue
				}
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	// Dedicated connection for LISTEN
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Report listener event error")
		}
	})
	defer listener.Close()

	if err := listener.Listen(reportReadyChannel); err != nil {
		return err
	}

	log.Info().Msg("Report listener started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, reconnect
				return nil
			}

			reportID := strings.TrimSpace(notification.Extra)
			if reportID == "" {
				log.Warn().Msg("Report-ready notification had empty payload, ignoring")
				continue
			}

			log.Debug().
				Str("channel", notification.Channel).
				Str("report_id", reportID).
				Msg("Received report-ready notification")

			if err := l.dispatcher.Dispatch(ctx, reportID); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("report_id", reportID).Msg("Report dispatch failed")
				}
			}

		case <-time.After(90 * time.Second):
			// Keepalive
			if err := listener.Ping(); err != nil {
				return err
			}
		}
	}
}

// CanUseListen checks if the connection string supports LISTEN/NOTIFY.
// Connection poolers like PgBouncer in transaction mode don't support
// LISTEN.
func CanUseListen(connStr string) bool {
	if strings.Contains(connStr, "pooler") {
		return false
	}
	// PgBouncer typically runs on port 6543
	if strings.Contains(connStr, ":6543") {
		return false
	}
	return true
}
