package curate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"sitewatch/monitor/observability"
)

const (
	// Fixed seed keeps OpenAI-compatible backends deterministic.
	deterministicSeed = 42

	relevanceBatchSize    = 25
	significanceBatchSize = 10

	contentPreviewChars = 2000
	changePreviewChars  = 800
)

// Client implements Provider against an OpenAI-compatible chat completions
// endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient builds a Client. model is the chat model identifier; baseURL is
// the API root without the /v1 suffix.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	Seed           int           `json:"seed"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, operation, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
		Seed:        deterministicSeed,
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.LLMCallFailures.WithLabelValues(operation).Inc()
		return "", fmt.Errorf("llm %s: %w", operation, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		observability.LLMCallFailures.WithLabelValues(operation).Inc()
		return "", fmt.Errorf("llm %s: read response: %w", operation, err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || resp.StatusCode >= 400 {
		observability.LLMCallFailures.WithLabelValues(operation).Inc()
		return "", fmt.Errorf("llm %s: status %d: %s", operation, resp.StatusCode, truncateStr(string(raw), 300))
	}
	if parsed.Error != nil {
		observability.LLMCallFailures.WithLabelValues(operation).Inc()
		return "", fmt.Errorf("llm %s: %s", operation, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		observability.LLMCallFailures.WithLabelValues(operation).Inc()
		return "", fmt.Errorf("llm %s: empty response", operation)
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseJSON decodes a model response into out, tolerating markdown code
// fences some backends wrap around JSON despite instructions.
func parseJSON(response string, out any) error {
	content := strings.TrimSpace(response)
	if strings.HasPrefix(content, "```") {
		if i := strings.Index(content, "\n"); i != -1 {
			content = content[i+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return json.Unmarshal([]byte(strings.TrimSpace(content)), out)
}

// formatPages renders crawled pages for a prompt, with markdown previews
// truncated for token efficiency.
func formatPages(pages []PageContent) string {
	var b strings.Builder
	for i, p := range pages {
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "%d. URL: %s\n   Title: %s\n", i+1, p.URL, title)
		md := strings.TrimSpace(p.Markdown)
		switch {
		case len(md) > contentPreviewChars:
			fmt.Fprintf(&b, "   Content:\n%s...\n", md[:contentPreviewChars])
		case len(md) > 0:
			fmt.Fprintf(&b, "   Content:\n%s\n", md)
		default:
			b.WriteString("   Content: [EMPTY PAGE - NO CONTENT]\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatChanges(changes []ChangedPage) string {
	parts := make([]string, 0, len(changes))
	for i, ch := range changes {
		old := previewOr(ch.OldContent, "(no previous content)")
		cur := previewOr(ch.NewContent, "(no new content)")
		parts = append(parts, fmt.Sprintf("%d. URL: %s\n   PREVIOUS CONTENT:\n%s\n\n   NEW CONTENT:\n%s\n", i+1, ch.URL, old, cur))
	}
	return strings.Join(parts, "\n---\n")
}

func previewOr(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if len(s) > changePreviewChars {
		return s[:changePreviewChars] + "..."
	}
	return s
}

func truncateStr(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// FilterRelevance classifies pages in batches. A failed batch fails open:
// every page in it counts as relevant rather than silently vanishing from
// the artifact.
func (c *Client) FilterRelevance(ctx context.Context, pages []PageContent) ([]string, error) {
	var relevant []string
	for start := 0; start < len(pages); start += relevanceBatchSize {
		end := min(start+relevanceBatchSize, len(pages))
		batch := pages[start:end]

		response, err := c.call(ctx, "filter_relevance", fmt.Sprintf(relevancePrompt, formatPages(batch)))
		var result struct {
			RelevantURLs []string `json:"relevant_urls"`
		}
		if err == nil {
			err = parseJSON(response, &result)
		}
		if err != nil {
			log.Printf("curate: relevance batch failed, keeping all %d pages: %v", len(batch), err)
			for _, p := range batch {
				relevant = append(relevant, p.URL)
			}
			continue
		}
		relevant = append(relevant, result.RelevantURLs...)
	}
	return relevant, nil
}

// EvaluateSignificance judges changed pages in batches. A failed batch fails
// safe: every change in it counts as significant.
func (c *Client) EvaluateSignificance(ctx context.Context, changes []ChangedPage) (map[string]string, error) {
	significant := make(map[string]string)
	for start := 0; start < len(changes); start += significanceBatchSize {
		end := min(start+significanceBatchSize, len(changes))
		batch := changes[start:end]

		response, err := c.call(ctx, "evaluate_significance", fmt.Sprintf(significancePrompt, formatChanges(batch)))
		var result struct {
			SignificantURLs []string          `json:"significant_urls"`
			Reasons         map[string]string `json:"reasons"`
		}
		if err == nil {
			err = parseJSON(response, &result)
		}
		if err != nil {
			log.Printf("curate: significance batch failed, treating all %d changes as significant: %v", len(batch), err)
			for _, ch := range batch {
				significant[ch.URL] = "evaluation failed, assumed significant"
			}
			continue
		}
		for _, u := range result.SignificantURLs {
			reason := result.Reasons[u]
			if reason == "" {
				reason = "content changed"
			}
			significant[u] = reason
		}
	}
	return significant, nil
}

// CurateFull writes the whole artifact structure. URLs the model invents are
// dropped, duplicates keep their first assignment, and sections left with no
// valid pages are removed.
func (c *Client) CurateFull(ctx context.Context, pages []PageContent) (*Curation, error) {
	response, err := c.call(ctx, "curate_full", fmt.Sprintf(curationPrompt, formatPages(pages)))
	if err != nil {
		return nil, err
	}
	var cur Curation
	if err := parseJSON(response, &cur); err != nil {
		return nil, fmt.Errorf("parse curation: %w", err)
	}

	valid := make(map[string]bool, len(pages))
	for _, p := range pages {
		valid[urlKey(p.URL)] = true
	}
	seen := make(map[string]bool)
	kept := cur.Sections[:0]
	for _, sec := range cur.Sections {
		var secPages []CuratedPage
		for _, p := range sec.Pages {
			key := urlKey(p.URL)
			if !valid[key] {
				log.Printf("curate: filtered hallucinated url %s", p.URL)
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			p.Category = sec.Name
			secPages = append(secPages, p)
		}
		if len(secPages) == 0 {
			log.Printf("curate: dropping section %q, no valid pages", sec.Name)
			continue
		}
		sec.Pages = secPages
		kept = append(kept, sec)
	}
	cur.Sections = kept
	return &cur, nil
}

func (c *Client) RegenerateSection(ctx context.Context, name string, pages []PageContent, siteTitle, tagline string) (*SectionOutcome, error) {
	prompt := fmt.Sprintf(sectionRegenPrompt, name, siteTitle, tagline, formatPages(pages))
	response, err := c.call(ctx, "regenerate_section", prompt)
	if err != nil {
		return nil, err
	}
	var result struct {
		Action      string `json:"action"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	}
	if err := parseJSON(response, &result); err != nil {
		return nil, fmt.Errorf("parse section regeneration: %w", err)
	}
	if result.Action == "delete" {
		return &SectionOutcome{Delete: true, DeleteReason: result.Reason}, nil
	}
	return &SectionOutcome{Description: result.Description}, nil
}

func (c *Client) CategorizeNewPages(ctx context.Context, pages []PageContent, siteTitle, tagline string, existingSections []string) (*Categorization, error) {
	prompt := fmt.Sprintf(categorizationPrompt, siteTitle, tagline, strings.Join(existingSections, ", "), formatPages(pages))
	response, err := c.call(ctx, "categorize_new_pages", prompt)
	if err != nil {
		return nil, err
	}
	var result struct {
		Pages             []CuratedPage `json:"pages"`
		NewSectionsNeeded []string      `json:"new_sections_needed"`
	}
	if err := parseJSON(response, &result); err != nil {
		return nil, fmt.Errorf("parse categorization: %w", err)
	}
	for i := range result.Pages {
		if result.Pages[i].Category == "" {
			result.Pages[i].Category = "Other"
		}
	}
	return &Categorization{Pages: result.Pages, NewSections: result.NewSectionsNeeded}, nil
}

func urlKey(u string) string {
	return strings.ToLower(strings.TrimRight(u, "/"))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
