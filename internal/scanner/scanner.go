// Package scanner performs a best-effort technical SEO scan of a site:
// sitemap health, on-page metadata problems and technology detection.
// Every failure degrades to an empty result; a scan never blocks report
// generation.
package scanner

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

const (
	defaultUserAgent = "HarborviewSEOBot/1.0 (+https://harborview.example/bot)"
	defaultMaxPages  = 25
	defaultTimeout   = 10 * time.Second
)

// Issue is one on-page problem found during the scan.
type Issue struct {
	Page     string `json:"page"`
	Type     string `json:"type"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"` // "error" or "warning"
}

// TechnicalIssues is the scan result consumed by report generation.
// The zero value is a valid "nothing found / scan unavailable" result.
type TechnicalIssues struct {
	SitemapIssues   []string `json:"sitemap_issues"`
	PotentialIssues []Issue  `json:"potential_issues"`
	TotalErrors     int      `json:"total_errors"`
	TotalWarnings   int      `json:"total_warnings"`
	Technologies    []string `json:"technologies,omitempty"`
}

// Config controls scan behaviour.
type Config struct {
	UserAgent string
	MaxPages  int
	Timeout   time.Duration
}

// Scanner crawls a bounded set of pages checking for SEO problems.
type Scanner struct {
	config   Config
	wappalyz *wappalyzer.Wappalyze
}

// New creates a scanner. Technology fingerprinting is optional: if the
// wappalyzer ruleset fails to load the scanner still runs page checks.
func New(config Config) *Scanner {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaultMaxPages
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	w, err := wappalyzer.New()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise technology detection, continuing without it")
		w = nil
	}

	return &Scanner{config: config, wappalyz: w}
}

// sitemapURLSet matches both <urlset> and <sitemapindex> documents.
type sitemapURLSet struct {
	URLs     []sitemapURL `xml:"url"`
	Sitemaps []sitemapURL `xml:"sitemap"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// Scan crawls the site rooted at siteURL and returns every issue found.
// The error return is reserved for a completely unusable site URL;
// partial failures are folded into the result.
func (s *Scanner) Scan(ctx context.Context, siteURL string) (*TechnicalIssues, error) {
	start := time.Now()
	result := &TechnicalIssues{
		SitemapIssues:   []string{},
		PotentialIssues: []Issue{},
	}

	base := strings.TrimSuffix(siteURL, "/")
	if !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}

	pages, sitemapIssues := s.discoverPages(ctx, base)
	result.SitemapIssues = sitemapIssues

	if len(pages) == 0 {
		// No sitemap or an empty one: scan the homepage alone.
		pages = []string{base + "/"}
	}
	if len(pages) > s.config.MaxPages {
		pages = pages[:s.config.MaxPages]
	}

	s.crawlPages(ctx, base, pages, result)

	for _, issue := range result.PotentialIssues {
		if issue.Severity == "error" {
			result.TotalErrors++
		} else {
			result.TotalWarnings++
		}
	}

	log.Info().
		Str("site", siteURL).
		Int("pages_scanned", len(pages)).
		Int("errors", result.TotalErrors).
		Int("warnings", result.TotalWarnings).
		Dur("duration", time.Since(start)).
		Msg("Technical scan completed")
	return result, nil
}

// discoverPages fetches and parses /sitemap.xml, returning page URLs and
// any sitemap-level problems.
func (s *Scanner) discoverPages(ctx context.Context, base string) ([]string, []string) {
	var issues []string

	sitemapURL := base + "/sitemap.xml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, []string{fmt.Sprintf("could not build sitemap request: %v", err)}
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	client := &http.Client{Timeout: s.config.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, []string{fmt.Sprintf("sitemap fetch failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, []string{fmt.Sprintf("sitemap returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, []string{fmt.Sprintf("sitemap read failed: %v", err)}
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, []string{fmt.Sprintf("sitemap is not valid XML: %v", err)}
	}

	var pages []string
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			issues = append(issues, "sitemap contains an entry with an empty <loc>")
			continue
		}
		pages = append(pages, loc)
	}

	// Index files point at child sitemaps; report rather than recurse so
	// the scan stays bounded.
	if len(set.Sitemaps) > 0 && len(pages) == 0 {
		issues = append(issues, fmt.Sprintf("sitemap is an index of %d child sitemaps; scanning homepage only", len(set.Sitemaps)))
	}

	return pages, issues
}

// crawlPages visits the page set and records on-page issues.
func (s *Scanner) crawlPages(ctx context.Context, base string, pages []string, result *TechnicalIssues) {
	c := colly.NewCollector(
		colly.UserAgent(s.config.UserAgent),
		colly.MaxDepth(1),
		colly.Async(true),
		colly.AllowURLRevisit(),
	)
	c.SetClient(&http.Client{Timeout: s.config.Timeout})
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 4,
		RandomDelay: 200 * time.Millisecond,
	})

	var mu sync.Mutex
	titles := make(map[string][]string)
	descriptions := make(map[string][]string)

	c.OnHTML("html", func(e *colly.HTMLElement) {
		page := e.Request.URL.String()
		var doc *goquery.Selection = e.DOM

		var pageIssues []Issue

		title := strings.TrimSpace(doc.Find("title").First().Text())
		if title == "" {
			pageIssues = append(pageIssues, Issue{page, "missing_title", "page has no <title> element", "error"})
		}

		desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
		desc = strings.TrimSpace(desc)
		if desc == "" {
			pageIssues = append(pageIssues, Issue{page, "missing_meta_description", "page has no meta description", "warning"})
		}

		if doc.Find("h1").Length() == 0 {
			pageIssues = append(pageIssues, Issue{page, "missing_h1", "page has no <h1> heading", "warning"})
		}

		if robots, ok := doc.Find(`meta[name="robots"]`).First().Attr("content"); ok && strings.Contains(strings.ToLower(robots), "noindex") {
			pageIssues = append(pageIssues, Issue{page, "noindex", "page is blocked from indexing by a robots meta tag", "error"})
		}

		mu.Lock()
		result.PotentialIssues = append(result.PotentialIssues, pageIssues...)
		if title != "" {
			titles[title] = append(titles[title], page)
		}
		if desc != "" {
			descriptions[desc] = append(descriptions[desc], page)
		}
		mu.Unlock()
	})

	c.OnResponse(func(r *colly.Response) {
		if s.wappalyz == nil || r.Request.URL.String() != pages[0] {
			return
		}
		fingerprints := s.wappalyz.Fingerprint(r.Headers.Clone(), r.Body)
		mu.Lock()
		for tech := range fingerprints {
			result.Technologies = append(result.Technologies, tech)
		}
		sort.Strings(result.Technologies)
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		result.PotentialIssues = append(result.PotentialIssues, Issue{
			Page:     r.Request.URL.String(),
			Type:     "fetch_error",
			Detail:   err.Error(),
			Severity: "error",
		})
		mu.Unlock()
	})

	for _, page := range pages {
		if err := c.Visit(page); err != nil {
			log.Debug().Err(err).Str("page", page).Msg("Skipping page the collector refused")
		}
	}
	c.Wait()

	// Duplicate metadata across pages dilutes relevance per page.
	mu.Lock()
	defer mu.Unlock()
	for title, urls := range titles {
		if len(urls) > 1 {
			result.PotentialIssues = append(result.PotentialIssues, Issue{
				Page:     urls[0],
				Type:     "duplicate_title",
				Detail:   fmt.Sprintf("%d pages share the title %q", len(urls), title),
				Severity: "warning",
			})
		}
	}
	for _, urls := range descriptions {
		if len(urls) > 1 {
			result.PotentialIssues = append(result.PotentialIssues, Issue{
				Page:     urls[0],
				Type:     "duplicate_meta_description",
				Detail:   fmt.Sprintf("%d pages share the same meta description", len(urls)),
				Severity: "warning",
			})
		}
	}
}
