package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/harborview/seo-reporter/internal/ai"
	"github.com/harborview/seo-reporter/internal/api"
	"github.com/harborview/seo-reporter/internal/db"
	"github.com/harborview/seo-reporter/internal/mailer"
	"github.com/harborview/seo-reporter/internal/metrics"
	"github.com/harborview/seo-reporter/internal/notifications"
	"github.com/harborview/seo-reporter/internal/observability"
	"github.com/harborview/seo-reporter/internal/report"
	"github.com/harborview/seo-reporter/internal/scanner"
	"github.com/harborview/seo-reporter/internal/searchconsole"
	"github.com/harborview/seo-reporter/internal/tasks"
	"github.com/harborview/seo-reporter/internal/util"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port                 string // HTTP port to listen on
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
	ScheduleEnabled      bool   // Run the weekly sync + report schedule
	ShareSecret          string // HMAC secret for shareable report links
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		ScheduleEnabled:      getEnvWithDefault("REPORT_SCHEDULE_ENABLED", "true") == "true",
		ShareSecret:          os.Getenv("SHARE_LINK_SECRET"),
	}

	setupLogging(config)

	// Initialise Sentry for error tracking
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var (
		obsProviders *observability.Providers
		metricsSrv   *http.Server
		err          error
	)

	if config.ObservabilityEnabled {
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:      true,
			ServiceName:  "seo-reporter",
			Environment:  config.Env,
			OTLPEndpoint: strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:  parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure: config.OTLPInsecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv = &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()

				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	// Connect to PostgreSQL
	pgDB, err := db.InitFromEnv()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	// Background context cancelled on shutdown
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	// AI client, insight adapter and task generator. The client degrades
	// to rule-based output when OPENAI_API_KEY is missing.
	aiClient := ai.NewClient(ai.ConfigFromEnv())
	if !aiClient.Enabled() {
		log.Warn().Msg("OpenAI not configured, AI enrichment disabled")
	}
	aiAdapter := ai.NewAdapter(aiClient, pgDB)
	taskGen := tasks.NewGenerator(aiClient, pgDB, pgDB)

	// Technical scanner
	siteScanner := scanner.New(scanner.Config{})

	// Metrics aggregation and the report orchestrator
	aggregator := metrics.NewAggregator(pgDB)
	orchestrator := report.New(pgDB, aggregator, aiAdapter, taskGen, siteScanner)

	// Search Console ingestion and the weekly schedule
	scConfig := searchconsole.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RefreshToken: os.Getenv("GOOGLE_REFRESH_TOKEN"),
	}
	if scConfig.ClientID != "" && scConfig.ClientSecret != "" && scConfig.RefreshToken != "" {
		syncer := searchconsole.NewSyncer(searchconsole.NewClient(scConfig), pgDB)
		if config.ScheduleEnabled {
			go runWeeklySchedule(appCtx, pgDB, syncer, orchestrator)
		}
	} else {
		log.Warn().Msg("Google Search Console credentials not configured, ingestion disabled")
	}

	// Report delivery: email + Slack driven by report_ready notifications
	mail := mailer.NewFromEnv()
	slackNotifier := notifications.NewSlackNotifierFromEnv()
	dispatcher := notifications.NewDispatcher(pgDB, mail, slackNotifier)
	connStr := pgDB.GetConfig().ConnectionString()
	if notifications.CanUseListen(connStr) {
		if listener := notifications.NewListener(connStr, dispatcher); listener != nil {
			go listener.Start(appCtx)
		}
	} else {
		log.Warn().Msg("Connection pooler detected, report delivery listener disabled")
	}

	// Expired session cleanup
	go runSessionCleanup(appCtx, pgDB)

	// Create a rate limiter
	limiter := newRateLimiter()

	// Create API handler with dependencies
	apiHandler := api.NewHandler(pgDB, orchestrator, []byte(config.ShareSecret))
	apiHandler.Summaries = aiAdapter

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	// Create middleware stack with rate limiting
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !limiter.getLimiter(ip).Allow() {
			api.WriteErrorMessage(w, r, "Too many requests", http.StatusTooManyRequests, api.ErrCodeRateLimit)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Add middleware in reverse order (outermost first)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: handler,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		cancelApp()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Str("port", config.Port).Msg("Starting server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

// runWeeklySchedule syncs Search Console data and generates the weekly
// report for every active client's primary site. Runs once per check
// interval, firing on Mondays after the previous ISO week has closed.
func runWeeklySchedule(ctx context.Context, pgDB *db.DB, syncer *searchconsole.Syncer, orchestrator *report.Orchestrator) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	log.Info().Msg("Weekly report schedule started")

	var lastRun time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Weekly report schedule stopped")
			return
		case now := <-ticker.C:
			window := util.LastWeek(now)
			if now.Weekday() != time.Monday || !lastRun.Before(window.End) {
				continue
			}
			runReportsForAllClients(ctx, pgDB, syncer, orchestrator, window)
			lastRun = now
		}
	}
}

func runReportsForAllClients(ctx context.Context, pgDB *db.DB, syncer *searchconsole.Syncer, orchestrator *report.Orchestrator, window util.Window) {
	clients, err := pgDB.ListActiveClients(ctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to list clients for scheduled reports")
		return
	}

	// Cover both the report window and its comparison baseline.
	syncStart := util.PreviousWindow(window).Start

	for _, client := range clients {
		site, err := pgDB.GetPrimarySiteForUser(ctx, client.ID)
		if err != nil {
			log.Debug().Err(err).Str("user_id", client.ID).Msg("Client has no primary site, skipping scheduled report")
			continue
		}

		if err := syncer.SyncRange(ctx, site, syncStart, window.End); err != nil {
			log.Error().Err(err).Str("site_id", site.ID).Msg("Search Console sync failed, generating from stored data")
		}

		if _, err := orchestrator.Generate(ctx, report.Request{SiteID: site.ID, Period: report.PeriodWeek}); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("site_id", site.ID).Msg("Scheduled report generation failed")
		}
	}
}

// runSessionCleanup purges expired sessions periodically.
func runSessionCleanup(ctx context.Context, pgDB *db.DB) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := pgDB.DeleteExpiredSessions(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired sessions")
			} else if deleted > 0 {
				log.Debug().Int64("deleted", deleted).Msg("Expired sessions removed")
			}
		}
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "seo-reporter").
			Logger()
	}
}

// RateLimiter represents a rate limiting system based on client IP addresses
type RateLimiter struct {
	limits   map[string]*IPRateLimiter
	mu       sync.Mutex
	rate     rate.Limit
	capacity int
}

// IPRateLimiter wraps a token bucket rate limiter specific to an IP address
type IPRateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter creates a new rate limiter with default settings
func newRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:   make(map[string]*IPRateLimiter),
		rate:     rate.Limit(20), // 20 requests per second per client
		capacity: 10,
	}
}

// getLimiter returns the rate limiter for a specific IP address
func (rl *RateLimiter) getLimiter(ip string) *IPRateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limits[ip]
	if !exists {
		limiter = &IPRateLimiter{
			limiter: rate.NewLimiter(rl.rate, rl.capacity),
		}
		rl.limits[ip] = limiter
	}

	return limiter
}

// Allow checks if a request from this IP should be allowed
func (ipl *IPRateLimiter) Allow() bool {
	return ipl.limiter.Allow()
}

// getClientIP extracts the client's IP address from a request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For might contain multiple IPs, take the first one
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		ips := strings.Split(ip, ",")
		return strings.TrimSpace(ips[0])
	}

	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
