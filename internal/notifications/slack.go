// Package notifications dispatches finished reports to their delivery
// channels. A Postgres LISTEN loop picks up report-ready events and
// fans them out to email and Slack.
package notifications

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/harborview/seo-reporter/internal/db"
)

// SlackNotifier posts report summaries to a Slack channel.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
}

// NewSlackNotifierFromEnv builds a notifier from SLACK_BOT_TOKEN and
// SLACK_CHANNEL_ID. Returns nil when Slack is not configured.
func NewSlackNotifierFromEnv() *SlackNotifier {
	token := os.Getenv("SLACK_BOT_TOKEN")
	channelID := os.Getenv("SLACK_CHANNEL_ID")
	if token == "" || channelID == "" {
		log.Info().Msg("Slack not configured, channel disabled")
		return nil
	}
	return &SlackNotifier{
		client:    slack.New(token),
		channelID: channelID,
	}
}

// NewSlackNotifier creates a notifier with an explicit client and channel.
func NewSlackNotifier(client *slack.Client, channelID string) *SlackNotifier {
	return &SlackNotifier{client: client, channelID: channelID}
}

// NotifyReport posts a summary of the stored report.
func (n *SlackNotifier) NotifyReport(ctx context.Context, site *db.Site, report *db.WeeklyReport) error {
	blocks := n.buildMessageBlocks(site, report)
	fallback := fmt.Sprintf("SEO report ready for %s (%s to %s)",
		site.Name,
		report.PeriodStart.Format("2 Jan"),
		report.PeriodEnd.Format("2 Jan"))

	_, _, err := n.client.PostMessageContext(
		ctx,
		n.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallback, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post Slack message: %w", err)
	}

	log.Info().
		Str("site_id", site.ID).
		Str("report_id", report.ID).
		Msg("Slack notification sent")
	return nil
}

func (n *SlackNotifier) buildMessageBlocks(site *db.Site, report *db.WeeklyReport) []slack.Block {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "https://app.harborview.dev"
	}

	emoji := ":bar_chart:"
	if report.ClicksChange <= -20 {
		emoji = ":rotating_light:"
	} else if report.ClicksChange > 10 {
		emoji = ":chart_with_upwards_trend:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *SEO report ready: %s*", emoji, site.Name),
				false,
				false,
			),
			nil,
			nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("*%s to %s*\nClicks: %d (%+.1f%%)\nImpressions: %d (%+.1f%%)\nAvg position: %.1f (%+.1f)",
					report.PeriodStart.Format("2 Jan"),
					report.PeriodEnd.Format("2 Jan 2006"),
					report.TotalClicks, report.ClicksChange,
					report.TotalImpressions, report.ImpressionsChange,
					report.AveragePosition, report.PositionChange,
				),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if report.ID != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("<%s/reports/%s|View full report>", appURL, report.ID),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	return blocks
}
