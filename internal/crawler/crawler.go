// Package crawler walks disclosure listing pages. It fetches HTML with a
// plain client, optionally falling back to a headless browser for CDN-blocked
// pages, extracts document and pagination links, and feeds new ones into the
// URL frontier.
package crawler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/resilience"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/scope"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

const (
	defaultPageTimeout = 40 * time.Second

	// maxPageBytes caps how much of a listing page is read. Dataset listings
	// with thousands of links stay well under this.
	maxPageBytes = 4 << 20

	// The seen filter is sized for a full archive crawl. A false positive
	// skips one enqueue for the run.
	expectedURLs      = 200_000
	falsePositiveRate = 1e-4
)

// ErrOutOfScope marks a frontier URL the scope guard refuses to fetch.
var ErrOutOfScope = eris.New("crawler: url out of scope")

// Renderer renders a page in a real browser and returns the final URL and
// HTML. Satisfied by fetch.BrowserFetcher.
type Renderer interface {
	RenderHTML(ctx context.Context, rawURL string) (string, string, error)
}

// PageResult summarizes one processed listing page.
type PageResult struct {
	URL        string
	FinalURL   string
	Title      string
	Discovered []string // all unique in-scope links, documents and pages
	NewDocs    int      // document links newly enqueued
	NewPages   int      // page links newly enqueued
	Rendered   bool     // HTML came from the browser fallback
}

// Crawler fetches listing pages and grows the URL frontier. One Crawler
// serves one run; the seen filter does not persist across runs.
type Crawler struct {
	store    store.Store
	guard    *scope.Guard
	client   *http.Client
	renderer Renderer
	limiter  *rate.Limiter
	seen     *bloom.BloomFilter
	cfg      config.CrawlConfig
	retry    resilience.RetryConfig
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithRenderer enables the browser fallback for 403-blocked pages.
func WithRenderer(r Renderer) Option {
	return func(c *Crawler) { c.renderer = r }
}

// WithHTTPClient replaces the default page-fetch client.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Crawler) { c.client = cl }
}

// New builds a Crawler over the given frontier store and scope guard.
func New(st store.Store, guard *scope.Guard, cfg config.CrawlConfig, opts ...Option) *Crawler {
	timeout := defaultPageTimeout
	if cfg.PageTimeoutSecs > 0 {
		timeout = time.Duration(cfg.PageTimeoutSecs) * time.Second
	}

	rps := cfg.RatePerHost
	if rps <= 0 {
		rps = 1.0
	}

	retries := cfg.RetryAttempts
	if retries < 0 {
		retries = 0
	}
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = retries + 1
	if cfg.BackoffBaseSecs > 0 {
		rc.InitialBackoff = time.Duration(cfg.BackoffBaseSecs * float64(time.Second))
	}
	// Listing fetches retry on every failure: transient CDN 403s clear after
	// a backoff often enough to be worth the attempts.
	rc.ShouldRetry = func(error) bool { return true }

	c := &Crawler{
		store:   st,
		guard:   guard,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		seen:    bloom.NewWithEstimates(expectedURLs, falsePositiveRate),
		cfg:     cfg,
		retry:   rc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeSeeds trims, canonicalizes, and deduplicates raw seed URLs.
// Dataset listing seeds pasted with ?page=N are rewritten to page=0.
func NormalizeSeeds(raw []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		s := urlutil.Normalize(urlutil.NormalizeDatasetSeed(r))
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SeedFrontier queues the seed URLs for this run. Seeds always re-queue,
// even when a previous run finished them.
func (c *Crawler) SeedFrontier(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		return eris.New("crawler: no seed urls")
	}
	for _, s := range seeds {
		c.seen.AddString(s)
	}
	return c.store.UpsertURLs(ctx, seeds, model.URLStatusQueued, time.Now().UTC(), false)
}

// ProcessPage fetches one listing page, records the attempt outcome on the
// frontier row, and enqueues newly discovered links. Document links keep
// their done status across runs; page links re-queue. The returned result
// lists every unique in-scope link found on the page.
func (c *Crawler) ProcessPage(ctx context.Context, pageURL string) (*PageResult, error) {
	if !c.guard.Allowed(pageURL) {
		// Recording the block keeps the row from cycling through the
		// frontier forever.
		if err := c.store.RecordAttempt(ctx, pageURL, model.URLAttempt{
			Status: model.URLStatusError,
			Error:  "blocked by site scope or robots policy",
		}); err != nil {
			return nil, err
		}
		return nil, ErrOutOfScope
	}

	if err := c.store.RecordAttempt(ctx, pageURL, model.URLAttempt{
		Status: model.URLStatusProcessing,
	}); err != nil {
		return nil, err
	}

	page, err := resilience.DoVal(ctx, c.retryConfig(ctx, pageURL), func(ctx context.Context) (fetchedPage, error) {
		return c.fetchPage(ctx, pageURL)
	})
	if err != nil {
		if recErr := c.store.RecordAttempt(ctx, pageURL, model.URLAttempt{
			Status: model.URLStatusError,
			Error:  err.Error(),
		}); recErr != nil {
			zap.L().Warn("record page error", zap.String("url", pageURL), zap.Error(recErr))
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.html))
	if err != nil {
		if recErr := c.store.RecordAttempt(ctx, pageURL, model.URLAttempt{
			Status: model.URLStatusError,
			Error:  err.Error(),
		}); recErr != nil {
			zap.L().Warn("record page error", zap.String("url", pageURL), zap.Error(recErr))
		}
		return nil, eris.Wrap(err, "crawler: parse page")
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	if err := c.store.RecordAttempt(ctx, pageURL, model.URLAttempt{
		Status:      model.URLStatusDone,
		HTTPStatus:  page.status,
		ContentType: "text/html",
		Title:       title,
		FinalURL:    page.finalURL,
	}); err != nil {
		return nil, err
	}

	discovered := c.extractLinks(doc, page.finalURL)

	// Documents can live anywhere on the site; page crawling stays inside
	// the seed path prefixes, and off pagination links unless discovered
	// pages are explicitly followed.
	var docLinks, pageLinks []string
	for _, link := range discovered {
		if urlutil.LooksDownloadable(link) {
			docLinks = append(docLinks, link)
			continue
		}
		if !c.guard.PageInScope(link) {
			continue
		}
		if !c.cfg.FollowDiscoveredPages && !urlutil.IsPaginationLink(link) {
			continue
		}
		pageLinks = append(pageLinks, link)
	}

	now := time.Now().UTC()
	docLinks = c.unseen(docLinks)
	if len(docLinks) > 0 {
		if err := c.store.UpsertURLs(ctx, docLinks, model.URLStatusQueued, now, true); err != nil {
			return nil, err
		}
	}
	pageLinks = c.unseen(pageLinks)
	if len(pageLinks) > 0 {
		// preserveDone=false: pages are light and may change between runs.
		// Within a run the seen filter keeps crawled pages from re-queueing.
		if err := c.store.UpsertURLs(ctx, pageLinks, model.URLStatusQueued, now, false); err != nil {
			return nil, err
		}
	}

	zap.L().Debug("page processed",
		zap.String("url", pageURL),
		zap.String("title", title),
		zap.Int("discovered", len(discovered)),
		zap.Int("new_docs", len(docLinks)),
		zap.Int("new_pages", len(pageLinks)),
	)

	return &PageResult{
		URL:        pageURL,
		FinalURL:   page.finalURL,
		Title:      title,
		Discovered: discovered,
		NewDocs:    len(docLinks),
		NewPages:   len(pageLinks),
		Rendered:   page.rendered,
	}, nil
}

type fetchedPage struct {
	status   int
	finalURL string
	html     string
	rendered bool
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (fetchedPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return fetchedPage{}, eris.Wrap(err, "crawler: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fetchedPage{}, eris.Wrap(err, "crawler: create request")
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := c.client.Do(req)
	if err != nil {
		return fetchedPage{}, eris.Wrap(err, "crawler: fetch page")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fetchedPage{}, eris.Wrap(err, "crawler: read page body")
	}

	page := fetchedPage{
		status:   resp.StatusCode,
		finalURL: resp.Request.URL.String(),
		html:     string(body),
	}

	// Listing pages behind the CDN 403 for plain clients while rendering
	// fine in a real browser.
	if c.renderer != nil && page.status == http.StatusForbidden {
		if IsEdgeDenied(page.status, page.html) {
			zap.L().Info("edge CDN denial, retrying in browser", zap.String("url", page.finalURL))
		}
		finalURL, html, rerr := c.renderer.RenderHTML(ctx, page.finalURL)
		if rerr != nil {
			zap.L().Warn("browser fallback failed", zap.String("url", page.finalURL), zap.Error(rerr))
		} else {
			return fetchedPage{status: http.StatusOK, finalURL: finalURL, html: html, rendered: true}, nil
		}
	}

	if page.status >= 400 {
		return fetchedPage{}, eris.Errorf("crawler: HTTP %d", page.status)
	}
	return page, nil
}

// extractLinks resolves every anchor against the final URL and keeps the
// unique in-scope results in document order.
func (c *Crawler) extractLinks(doc *goquery.Document, base string) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || isNonHTTPLink(href) {
			return
		}
		candidate := urlutil.ResolveNormalize(base, href)
		if candidate == "" {
			return
		}
		if _, dup := seen[candidate]; dup {
			return
		}
		if !c.guard.Allowed(candidate) {
			return
		}
		seen[candidate] = struct{}{}
		links = append(links, candidate)
	})
	return links
}

// unseen filters out URLs already enqueued during this run and marks the
// rest as enqueued.
func (c *Crawler) unseen(urls []string) []string {
	var out []string
	for _, u := range urls {
		if c.seen.TestString(u) {
			continue
		}
		c.seen.AddString(u)
		out = append(out, u)
	}
	return out
}

func (c *Crawler) retryConfig(ctx context.Context, pageURL string) resilience.RetryConfig {
	rc := c.retry
	rc.OnRetry = func(attempt int, err error) {
		zap.L().Warn("page fetch failed, retrying",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if recErr := c.store.RecordAttempt(ctx, pageURL, model.URLAttempt{
			Status: model.URLStatusRetry,
			Error:  err.Error(),
		}); recErr != nil {
			zap.L().Warn("record retry attempt", zap.String("url", pageURL), zap.Error(recErr))
		}
	}
	return rc
}

// IsEdgeDenied reports whether a response is an edge-network access-denial
// page served to non-browser clients.
func IsEdgeDenied(status int, body string) bool {
	if status != http.StatusForbidden {
		return false
	}
	t := strings.ToLower(body)
	return strings.Contains(t, "access denied") && strings.Contains(t, "errors.edgesuite.net")
}

func isNonHTTPLink(href string) bool {
	h := strings.ToLower(href)
	return strings.HasPrefix(h, "javascript:") ||
		strings.HasPrefix(h, "mailto:") ||
		strings.HasPrefix(h, "tel:") ||
		strings.HasPrefix(h, "data:")
}
