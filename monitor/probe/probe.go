// Package probe implements the cheap tier of change detection: conditional
// HEAD fingerprint probes and the per-project lightweight batch checker that
// decides whether a full rescrape is warranted.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"sitewatch/monitor/analyze"
	"sitewatch/monitor/observability"
)

// Outcome classifies a single fingerprint probe.
type Outcome string

const (
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeChanged          Outcome = "changed"
	OutcomeFirstObservation Outcome = "first_observation"
	OutcomeNeedsSampleCheck Outcome = "needs_sample_check"
	OutcomeError            Outcome = "error"
)

// Fingerprint is the stored identity quadruple for a page. ContentLength
// is -1 when unknown.
type Fingerprint struct {
	ETag          string
	LastModified  string
	ContentLength int64
	SampleHash    string
}

// Empty reports whether no fingerprint of any kind has been stored yet.
func (f Fingerprint) Empty() bool {
	return f.ETag == "" && f.LastModified == "" && f.ContentLength <= 0 && f.SampleHash == ""
}

// Result is the classification of one probe.
type Result struct {
	URL      string
	Outcome  Outcome
	Reason   string // etag, last_modified, content_length, sample_hash
	Observed Fingerprint
	Err      error
}

// Prober issues conditional requests and classifies origin identity changes.
type Prober struct {
	client  *http.Client
	limiter *HostLimiter
}

func NewProber(client *http.Client, limiter *HostLimiter) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Prober{client: client, limiter: limiter}
}

// Check issues a conditional HEAD (with a GET fallback for origins that
// reject HEAD) and classifies the response against the stored fingerprint.
// Network errors classify as OutcomeError; fingerprints must not advance.
func (p *Prober) Check(ctx context.Context, url string, stored Fingerprint) Result {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return Result{URL: url, Outcome: OutcomeError, Err: err}
		}
	}

	resp, err := p.conditional(ctx, http.MethodHead, url, stored)
	if err != nil {
		observability.ProbeOutcomes.WithLabelValues(string(OutcomeError)).Inc()
		return Result{URL: url, Outcome: OutcomeError, Err: err}
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp.Body.Close()
		resp, err = p.conditional(ctx, http.MethodGet, url, stored)
		if err != nil {
			observability.ProbeOutcomes.WithLabelValues(string(OutcomeError)).Inc()
			return Result{URL: url, Outcome: OutcomeError, Err: err}
		}
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
	}()

	res := classify(url, stored, resp)
	observability.ProbeOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (p *Prober) conditional(ctx context.Context, method, url string, stored Fingerprint) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if stored.ETag != "" {
		req.Header.Set("If-None-Match", stored.ETag)
	}
	if stored.LastModified != "" {
		req.Header.Set("If-Modified-Since", stored.LastModified)
	}
	return p.client.Do(req)
}

func classify(url string, stored Fingerprint, resp *http.Response) Result {
	if resp.StatusCode == http.StatusNotModified {
		return Result{URL: url, Outcome: OutcomeUnchanged, Observed: stored}
	}

	observed := Fingerprint{
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: -1,
		SampleHash:    stored.SampleHash,
	}
	// A zero Content-Length is what servers emit for HEAD with no body; it
	// says nothing about the page, so only positive values count.
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			observed.ContentLength = n
		}
	}

	if stored.Empty() {
		return Result{URL: url, Outcome: OutcomeFirstObservation, Observed: observed}
	}

	if observed.ETag != "" && stored.ETag != "" && observed.ETag != stored.ETag {
		return Result{URL: url, Outcome: OutcomeChanged, Reason: "etag", Observed: observed}
	}
	if observed.LastModified != "" && stored.LastModified != "" && observed.LastModified != stored.LastModified {
		return Result{URL: url, Outcome: OutcomeChanged, Reason: "last_modified", Observed: observed}
	}
	if observed.ContentLength >= 0 && stored.ContentLength > 0 && observed.ContentLength != stored.ContentLength {
		return Result{URL: url, Outcome: OutcomeChanged, Reason: "content_length", Observed: observed}
	}

	headerless := observed.ETag == "" && observed.LastModified == "" && observed.ContentLength < 0
	if headerless {
		if stored.SampleHash != "" {
			return Result{URL: url, Outcome: OutcomeNeedsSampleCheck, Observed: observed}
		}
		// Origin went header-less and no semantic baseline exists; the
		// checker fetches once to seed a sample hash.
		return Result{URL: url, Outcome: OutcomeFirstObservation, Observed: observed}
	}
	return Result{URL: url, Outcome: OutcomeUnchanged, Observed: observed}
}

// SampleCheck fetches the page body, extracts its semantic fingerprint, and
// compares it against the stored sample hash.
func (p *Prober) SampleCheck(ctx context.Context, url, storedSampleHash string) (changed bool, newHash string, err error) {
	body, err := p.FetchBody(ctx, url)
	if err != nil {
		return false, "", err
	}
	hash := analyze.Fingerprint(body)
	return storedSampleHash != "" && hash != storedSampleHash, hash, nil
}

// FetchBody issues a plain GET and returns the body (bounded at 2 MB).
func (p *Prober) FetchBody(ctx context.Context, url string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
