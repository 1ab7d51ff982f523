// Package crawl talks to a Firecrawl-compatible scraping service. All content
// extraction is delegated there; this package handles job submission, polling,
// and shaping results into PageRecords.
package crawl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"sitewatch/monitor/urlutil"
)

// PageRecord is one scraped page as the rest of the pipeline consumes it.
type PageRecord struct {
	URL         string
	Title       string
	Description string
	Markdown    string
	ContentHash string
	IsHomepage  bool
	Depth       int
}

// ProgressFunc reports crawl progress: pages processed, total known, last URL.
type ProgressFunc func(crawled, total int, url string)

// Crawler is the scraping surface the worker depends on.
type Crawler interface {
	// CrawlSite discovers and scrapes a whole site starting from startURL.
	CrawlSite(ctx context.Context, startURL string, maxPages int) ([]PageRecord, error)
	// CrawlPage scrapes a single page.
	CrawlPage(ctx context.Context, url string) (*PageRecord, error)
	// MapSite lists every discoverable URL on the site without scraping.
	MapSite(ctx context.Context, url string) ([]string, error)
	// BatchScrape scrapes a specific set of URLs. startURL is used for
	// homepage detection and may be empty.
	BatchScrape(ctx context.Context, urls []string, startURL string) ([]PageRecord, error)
}

// Client implements Crawler against the Firecrawl v1 HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	waitForMS  int
	onProgress ProgressFunc

	// pollInterval is settable so tests do not sleep 5 seconds per poll.
	pollInterval time.Duration
}

// NewClient builds a Client. apiKey may be empty for self-hosted instances.
func NewClient(baseURL, apiKey string, waitForMS int, onProgress ProgressFunc) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		waitForMS:    waitForMS,
		onProgress:   onProgress,
		pollInterval: 5 * time.Second,
	}
}

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	WaitFor         int      `json:"waitFor,omitempty"`
	MaxAge          int      `json:"maxAge"`
}

type document struct {
	Markdown string `json:"markdown"`
	Metadata struct {
		URL         string `json:"url"`
		SourceURL   string `json:"sourceURL"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"metadata"`
}

func (d *document) pageURL() string {
	if d.Metadata.URL != "" {
		return d.Metadata.URL
	}
	return d.Metadata.SourceURL
}

type jobStatus struct {
	Success bool       `json:"success"`
	ID      string     `json:"id"`
	Status  string     `json:"status"`
	Error   string     `json:"error"`
	Total   int        `json:"total"`
	Data    []document `json:"data"`
	Next    string     `json:"next"`
}

func (c *Client) scrapeOpts() scrapeOptions {
	return scrapeOptions{
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
		WaitFor:         c.waitForMS,
		MaxAge:          0, // always fresh, never the service cache
	}
}

func (c *Client) CrawlSite(ctx context.Context, startURL string, maxPages int) ([]PageRecord, error) {
	log.Printf("crawl: starting site crawl of %s (max %d pages)", startURL, maxPages)
	c.report(0, maxPages, startURL)

	body := struct {
		URL           string        `json:"url"`
		Limit         int           `json:"limit"`
		ScrapeOptions scrapeOptions `json:"scrapeOptions"`
	}{URL: startURL, Limit: maxPages, ScrapeOptions: c.scrapeOpts()}

	var started jobStatus
	if err := c.post(ctx, "/v1/crawl", body, &started); err != nil {
		return nil, fmt.Errorf("submit crawl: %w", err)
	}
	docs, err := c.pollJob(ctx, "/v1/crawl/"+started.ID)
	if err != nil {
		return nil, err
	}
	pages := c.toRecords(docs, startURL)
	log.Printf("crawl: site crawl of %s completed, %d pages", startURL, len(pages))
	return pages, nil
}

func (c *Client) CrawlPage(ctx context.Context, url string) (*PageRecord, error) {
	body := struct {
		URL             string   `json:"url"`
		Formats         []string `json:"formats"`
		OnlyMainContent bool     `json:"onlyMainContent"`
		WaitFor         int      `json:"waitFor,omitempty"`
	}{URL: url, Formats: []string{"markdown"}, OnlyMainContent: true, WaitFor: c.waitForMS}

	var resp struct {
		Success bool     `json:"success"`
		Data    document `json:"data"`
		Error   string   `json:"error"`
	}
	if err := c.post(ctx, "/v1/scrape", body, &resp); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("scrape %s: %s", url, resp.Error)
	}
	rec := c.toRecord(resp.Data, "")
	if rec.URL == "" {
		rec.URL = url
	}
	return &rec, nil
}

func (c *Client) MapSite(ctx context.Context, url string) ([]string, error) {
	var resp struct {
		Success bool     `json:"success"`
		Links   []string `json:"links"`
		Error   string   `json:"error"`
	}
	if err := c.post(ctx, "/v1/map", struct {
		URL string `json:"url"`
	}{URL: url}, &resp); err != nil {
		return nil, fmt.Errorf("map %s: %w", url, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("map %s: %s", url, resp.Error)
	}
	log.Printf("crawl: map of %s discovered %d urls", url, len(resp.Links))
	return resp.Links, nil
}

func (c *Client) BatchScrape(ctx context.Context, urls []string, startURL string) ([]PageRecord, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	log.Printf("crawl: batch scraping %d urls", len(urls))

	body := struct {
		URLs            []string `json:"urls"`
		Formats         []string `json:"formats"`
		OnlyMainContent bool     `json:"onlyMainContent"`
		WaitFor         int      `json:"waitFor,omitempty"`
		MaxAge          int      `json:"maxAge"`
	}{URLs: urls, Formats: []string{"markdown"}, OnlyMainContent: true, WaitFor: c.waitForMS}

	var started jobStatus
	if err := c.post(ctx, "/v1/batch/scrape", body, &started); err != nil {
		return nil, fmt.Errorf("submit batch scrape: %w", err)
	}
	docs, err := c.pollJob(ctx, "/v1/batch/scrape/"+started.ID)
	if err != nil {
		return nil, err
	}
	pages := c.toRecords(docs, startURL)
	log.Printf("crawl: batch scrape completed, %d pages", len(pages))
	return pages, nil
}

// pollJob polls an async job endpoint until it completes, then follows the
// paginated result set to collect every document.
func (c *Client) pollJob(ctx context.Context, path string) ([]document, error) {
	for {
		var status jobStatus
		if err := c.get(ctx, path, &status); err != nil {
			return nil, fmt.Errorf("poll job: %w", err)
		}
		switch status.Status {
		case "completed":
			docs := status.Data
			next := status.Next
			for next != "" {
				var page jobStatus
				if err := c.getURL(ctx, next, &page); err != nil {
					return nil, fmt.Errorf("fetch result page: %w", err)
				}
				docs = append(docs, page.Data...)
				next = page.Next
			}
			return docs, nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("job %s: %s", status.Status, status.Error)
		}
		c.report(len(status.Data), status.Total, "")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) toRecords(docs []document, startURL string) []PageRecord {
	records := make([]PageRecord, 0, len(docs))
	for i, d := range docs {
		rec := c.toRecord(d, startURL)
		records = append(records, rec)
		c.report(i+1, len(docs), rec.URL)
	}
	return records
}

func (c *Client) toRecord(d document, startURL string) PageRecord {
	rec := PageRecord{
		URL:         d.pageURL(),
		Title:       d.Metadata.Title,
		Description: d.Metadata.Description,
		Markdown:    d.Markdown,
	}
	if rec.Markdown != "" {
		sum := sha256.Sum256([]byte(rec.Markdown))
		rec.ContentHash = hex.EncodeToString(sum[:])
	}
	if startURL != "" && urlutil.IsHomepage(rec.URL, startURL) {
		rec.IsHomepage = true
	} else {
		rec.Depth = 1
	}
	return rec
}

func (c *Client) report(crawled, total int, url string) {
	if c.onProgress != nil {
		c.onProgress(crawled, total, url)
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.getURL(ctx, c.baseURL+path, out)
}

func (c *Client) getURL(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(raw, 300))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
