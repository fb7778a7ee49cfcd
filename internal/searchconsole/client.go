// Package searchconsole is an HTTP client for the Google Search Console
// Search Analytics API, with OAuth refresh-token handling and a
// rate-limited fetch path that feeds the metrics store.
package searchconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	tokenEndpoint = "https://oauth2.googleapis.com/token"
	queryEndpoint = "https://searchconsole.googleapis.com/webmasters/v3/sites/%s/searchAnalytics/query"

	// MaxRowsPerRequest is the Search Analytics API row cap per call.
	MaxRowsPerRequest = 25000

	defaultTimeout = 30 * time.Second
)

// Config holds the OAuth client credentials and the stored refresh token.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// RequestsPerSecond throttles outbound API calls. Zero means the
	// default of 5 rps, well inside Google's per-site quota.
	RequestsPerSecond float64
}

// Client is an HTTP client for the Search Analytics query API.
type Client struct {
	mu           sync.RWMutex
	httpClient   *http.Client
	limiter      *rate.Limiter
	accessToken  string
	refreshToken string
	clientID     string
	clientSecret string
}

// Row is one row of search analytics data. Keys are returned in the
// order the dimensions were requested.
type Row struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

type queryRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow,omitempty"`
}

type queryResponse struct {
	Rows []Row `json:"rows"`
}

type tokenRefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	TokenType   string `json:"token_type"`
}

// NewClient creates a Search Console client from configuration.
func NewClient(cfg Config) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		refreshToken: cfg.RefreshToken,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// RefreshAccessToken exchanges the refresh token for a new access token.
// Uses application/x-www-form-urlencoded as required by OAuth 2.0 RFC 6749.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	formData := url.Values{}
	formData.Set("client_id", c.clientID)
	formData.Set("client_secret", c.clientSecret)
	formData.Set("refresh_token", c.refreshToken)
	formData.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token refresh response: %w", err)
	}

	c.mu.Lock()
	c.accessToken = tokenResp.AccessToken
	c.mu.Unlock()

	log.Debug().
		Int("expires_in", tokenResp.ExpiresIn).
		Msg("Successfully refreshed Google access token")
	return tokenResp.AccessToken, nil
}

// query runs one Search Analytics call for the given dimensions.
func (c *Client) query(ctx context.Context, siteURL string, start, end time.Time, dimensions []string) ([]Row, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	reqBody, err := json.Marshal(queryRequest{
		StartDate:  start.Format("2006-01-02"),
		EndDate:    end.Format("2006-01-02"),
		Dimensions: dimensions,
		RowLimit:   MaxRowsPerRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query request: %w", err)
	}

	endpoint := fmt.Sprintf(queryEndpoint, url.PathEscape(siteURL))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create query request: %w", err)
	}

	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search console API returned status %d: %s", resp.StatusCode, string(body))
	}

	var queryResp queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}

	// An absent rows field means no data for the range, which is valid.
	return queryResp.Rows, nil
}

// queryWithRetry runs a query with automatic token refresh on 401.
func (c *Client) queryWithRetry(ctx context.Context, siteURL string, start, end time.Time, dimensions []string) ([]Row, error) {
	rows, err := c.query(ctx, siteURL, start, end, dimensions)
	if err == nil {
		return rows, nil
	}

	if !isUnauthorisedError(err) {
		return nil, err
	}

	log.Info().Msg("Access token expired, refreshing and retrying")
	if _, refreshErr := c.RefreshAccessToken(ctx); refreshErr != nil {
		return nil, fmt.Errorf("failed to refresh access token: %w", refreshErr)
	}

	rows, err = c.query(ctx, siteURL, start, end, dimensions)
	if err != nil {
		return nil, fmt.Errorf("request failed after token refresh: %w", err)
	}
	return rows, nil
}

// FetchDaily returns one row per date in [start,end].
func (c *Client) FetchDaily(ctx context.Context, siteURL string, start, end time.Time) ([]Row, error) {
	return c.queryWithRetry(ctx, siteURL, start, end, []string{"date"})
}

// FetchPages returns one row per (date, page) in [start,end].
func (c *Client) FetchPages(ctx context.Context, siteURL string, start, end time.Time) ([]Row, error) {
	return c.queryWithRetry(ctx, siteURL, start, end, []string{"date", "page"})
}

// FetchQueries returns one row per (date, query) in [start,end].
func (c *Client) FetchQueries(ctx context.Context, siteURL string, start, end time.Time) ([]Row, error) {
	return c.queryWithRetry(ctx, siteURL, start, end, []string{"date", "query"})
}

// isUnauthorisedError checks if an error indicates a 401 Unauthorised response
func isUnauthorisedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "status 401")
}
