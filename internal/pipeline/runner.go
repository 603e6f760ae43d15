// Package pipeline orchestrates crawl runs. A Runner drains the URL frontier
// with a bounded worker pool, routing listing pages through the crawler and
// document URLs through download and the processing pass, with cooperative
// pause/stop control and progress callbacks for the CLI and server surfaces.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/crawler"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/export"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/fetch"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/release"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/scope"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

const (
	// batchLimit bounds one frontier poll.
	batchLimit = 400
	// flaggedExportLimit caps the end-of-run triage index.
	flaggedExportLimit = 100000
	// maxDocumentRounds bounds full download rounds per document URL and
	// run. Each round already retries internally with backoff; one repeat
	// round covers slow transients without letting a dead URL cycle
	// through the frontier forever.
	maxDocumentRounds = 2
)

// RunStateKey holds the bookkeeping record of the most recent run.
const RunStateKey = "run_state_v1"

// RunState records the bounds of the most recent run. A nil EndedAt means
// the run is still going, or crashed without closing the record.
type RunState struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// LastRunState reads the stored run record, nil when none exists or the
// stored value does not parse.
func LastRunState(ctx context.Context, st store.Store) (*RunState, error) {
	raw, err := st.KVGet(ctx, RunStateKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var rs RunState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, nil
	}
	return &rs, nil
}

// Events receives run progress callbacks. Any nil field is skipped. The
// callbacks may be invoked concurrently from worker goroutines.
type Events struct {
	Log      func(msg string)
	Status   func(url, state string)
	Progress func(processed, queued int)
	Error    func(msg string)
	Finished func()
}

// Stats is a point-in-time snapshot of run counters.
type Stats struct {
	Queued     int
	Processed  int
	Downloaded int
	Matched    int
}

// Runner drives one crawl run end to end.
type Runner struct {
	cfg    config.Config
	store  store.Store
	events Events
	gate   *Gate

	crawler    *crawler.Crawler
	downloader *fetch.Downloader
	processor  *Processor

	queued     atomic.Int64
	processed  atomic.Int64
	downloaded atomic.Int64
	matched    atomic.Int64
	pages      atomic.Int64

	failMu   sync.Mutex
	failures map[string]int
}

// NewRunner creates a Runner. Collaborators are assembled when Run starts,
// since scope and topic setup need a live context.
func NewRunner(st store.Store, cfg config.Config, events Events) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    st,
		events:   events,
		gate:     NewGate(),
		failures: make(map[string]int),
	}
}

// Gate exposes the pause/stop control for this run.
func (r *Runner) Gate() *Gate { return r.gate }

// Stats returns the current run counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Queued:     int(r.queued.Load()),
		Processed:  int(r.processed.Load()),
		Downloaded: int(r.downloaded.Load()),
		Matched:    int(r.matched.Load()),
	}
}

// Run executes the crawl until the frontier drains, stop is requested, or the
// context is cancelled. Always emits Finished; emits Error for failures other
// than cancellation.
func (r *Runner) Run(ctx context.Context) error {
	defer r.finished()

	err := r.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if r.events.Error != nil {
			r.events.Error(err.Error())
		}
	}
	return err
}

func (r *Runner) run(ctx context.Context) error {
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))
	started := time.Now().UTC()
	r.saveRunState(ctx, RunState{ID: runID, StartedAt: started})
	defer func() {
		ended := time.Now().UTC()
		// The run context may already be cancelled here.
		r.saveRunState(context.Background(), RunState{ID: runID, StartedAt: started, EndedAt: &ended})
	}()

	seeds := crawler.NormalizeSeeds(r.cfg.Crawl.Seeds)
	if len(seeds) == 0 {
		return eris.New("pipeline: no seed urls configured")
	}

	abandoned, err := r.store.AbandonPending(ctx)
	if err != nil {
		return err
	}
	if abandoned > 0 {
		r.logf("Abandoned %d stale pending URL(s) from a previous run", abandoned)
		log.Info("stale frontier rows abandoned", zap.Int("count", abandoned))
	}

	pageTimeout := time.Duration(r.cfg.Crawl.PageTimeoutSecs) * time.Second
	if pageTimeout <= 0 {
		pageTimeout = 40 * time.Second
	}
	client := &http.Client{Timeout: pageTimeout}

	guard := scope.NewGuard(ctx, client, seeds, scope.Options{
		UserAgent:     r.cfg.Crawl.UserAgent,
		AllowOffsite:  r.cfg.Crawl.AllowOffsite,
		RespectRobots: r.cfg.Crawl.RespectRobots,
	})

	crawlOpts := []crawler.Option{crawler.WithHTTPClient(client)}
	if r.cfg.Crawl.BrowserFallback {
		rend := fetch.NewBrowserFetcher(r.cfg.Crawl.UserAgent, pageTimeout)
		defer rend.Close()
		crawlOpts = append(crawlOpts, crawler.WithRenderer(rend))
	}
	r.crawler = crawler.New(r.store, guard, r.cfg.Crawl, crawlOpts...)

	if err := r.crawler.SeedFrontier(ctx, seeds); err != nil {
		return err
	}

	r.processor, err = NewProcessor(ctx, r.store, r.cfg)
	if err != nil {
		return err
	}

	r.downloader = fetch.NewDownloader(nil, fetch.DownloaderOptions{
		UserAgent:      r.cfg.Crawl.UserAgent,
		OutputDir:      r.processor.Plan().RawDir,
		Layout:         r.cfg.Storage.Layout,
		MaxRetries:     r.cfg.Crawl.RetryAttempts,
		BackoffBase:    time.Duration(r.cfg.Crawl.BackoffBaseSecs * float64(time.Second)),
		RatePerSecond:  r.cfg.Crawl.RatePerHost,
		Timeout:        time.Duration(r.cfg.Crawl.DownloadTimeoutSecs) * time.Second,
		AgeGateConsent: r.cfg.Crawl.AgeGateConsent,
		Pause:          r.gate,
	})

	log.Info("crawl started", zap.Strings("seeds", seeds))
	if err := r.drainFrontier(ctx); err != nil {
		return err
	}

	r.writeIndexes(ctx)
	r.snapshotRelease(ctx)

	log.Info("crawl finished",
		zap.Int64("processed", r.processed.Load()),
		zap.Int64("downloaded", r.downloaded.Load()),
		zap.Int64("matched", r.matched.Load()),
		zap.Bool("stopped", r.gate.Stopped()))
	return nil
}

// drainFrontier polls pending URLs and dispatches them to a bounded worker
// pool until the frontier is empty or the run is stopped.
func (r *Runner) drainFrontier(ctx context.Context) error {
	workers := r.cfg.Crawl.Workers
	if workers <= 0 {
		workers = 4
	}

	for {
		if r.gate.Stopped() {
			return nil
		}
		if err := r.gate.Wait(ctx); err != nil {
			return err
		}

		batch, err := r.store.NextBatch(ctx, batchLimit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		r.queued.Add(int64(len(batch)))
		r.progress()

		// Fresh group per batch: every row's status lands before the next
		// poll, so a poll never re-reads rows still in flight.
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, item := range batch {
			item := item
			g.Go(func() error {
				r.handle(gCtx, item)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (r *Runner) handle(ctx context.Context, item model.PendingURL) {
	if r.gate.Stopped() || ctx.Err() != nil {
		return
	}
	if err := r.gate.Wait(ctx); err != nil {
		return
	}
	defer r.progress()

	if urlutil.LooksDownloadable(item.URL) {
		r.status(item.URL, "processing (document)")
		r.handleDocument(ctx, item.URL)
		return
	}
	r.status(item.URL, "processing (page)")
	r.handlePage(ctx, item.URL)
}

func (r *Runner) handlePage(ctx context.Context, pageURL string) {
	// The page budget is a soft cap: concurrent workers may overshoot by at
	// most the pool size.
	if r.cfg.Crawl.MaxPages > 0 && r.pages.Load() >= int64(r.cfg.Crawl.MaxPages) {
		att := model.URLAttempt{Status: model.URLStatusAbandoned, Error: "page limit reached"}
		if err := r.store.RecordAttempt(ctx, pageURL, att); err != nil {
			zap.L().Warn("record page limit", zap.String("url", pageURL), zap.Error(err))
		}
		r.status(pageURL, "skipped (page limit)")
		return
	}
	r.pages.Add(1)

	r.logf("Crawl page: %s", pageURL)
	res, err := r.crawler.ProcessPage(ctx, pageURL)
	if err != nil {
		// ProcessPage already recorded the terminal frontier status.
		if ctx.Err() == nil && !r.gate.Stopped() {
			r.status(pageURL, "error: "+err.Error())
			r.logf("ERROR: %s (%v)", pageURL, err)
		}
		return
	}

	if r.cfg.Crawl.FollowDiscoveredPages {
		r.logf("Discovered %d links on page", len(res.Discovered))
	} else {
		docLinks := 0
		for _, u := range res.Discovered {
			if urlutil.LooksDownloadable(u) {
				docLinks++
			}
		}
		r.logf("Discovered %d link(s) (%d document link(s)) on page", len(res.Discovered), docLinks)
	}

	if len(res.Discovered) == 0 {
		info, err := r.store.URLDebug(ctx, pageURL)
		if err == nil && info != nil && (info.HTTPStatus != 0 || info.Error != "") {
			r.logf("WARN: page crawl yielded 0 links; url_status=%s http_status=%d error=%s",
				info.Status, info.HTTPStatus, info.Error)
		}
	}

	r.processed.Add(1)
	r.status(pageURL, "done")
}

func (r *Runner) handleDocument(ctx context.Context, docURL string) {
	att := model.URLAttempt{Status: model.URLStatusProcessing}
	if err := r.store.RecordAttempt(ctx, docURL, att); err != nil {
		zap.L().Warn("record processing", zap.String("url", docURL), zap.Error(err))
	}

	if err := r.gate.Wait(ctx); err != nil {
		return
	}
	r.logf("Download: %s", docURL)

	var cacheHeaders map[string]string
	etag, lastMod, err := r.store.CacheHeaders(ctx, docURL)
	if err != nil {
		zap.L().Warn("cache headers", zap.String("url", docURL), zap.Error(err))
	}
	if etag != "" || lastMod != "" {
		cacheHeaders = map[string]string{}
		if etag != "" {
			cacheHeaders["If-None-Match"] = etag
		}
		if lastMod != "" {
			cacheHeaders["If-Modified-Since"] = lastMod
		}
	}

	dl, err := r.downloader.Download(ctx, docURL, "", cacheHeaders)
	if errors.Is(err, fetch.ErrNotModified) {
		r.handleNotModified(ctx, docURL)
		return
	}
	if err != nil {
		if ctx.Err() == nil && !r.gate.Stopped() {
			r.failDocument(ctx, docURL, err)
		}
		return
	}
	r.downloaded.Add(1)

	// A pause right after the download completes holds off parsing and
	// scoring until resumed.
	if err := r.gate.Wait(ctx); err != nil {
		return
	}

	out, err := r.processor.Process(ctx, dl, ProcessOptions{AllowMove: true})
	if err != nil {
		if ctx.Err() == nil {
			r.failDocument(ctx, docURL, err)
		}
		return
	}

	if out.PassesRelevance {
		r.logf("Flagged: %s", filepath.Base(out.FinalPath))
	}
	if len(out.Hits) > 0 && !out.Reused {
		r.matched.Add(1)
		r.logf("FLAGGED (%d hits): %s", len(out.Hits), filepath.Base(dl.LocalPath))
	}

	done := model.URLAttempt{
		Status:       model.URLStatusDone,
		HTTPStatus:   http.StatusOK,
		ContentType:  dl.ContentType,
		Title:        out.Title,
		FinalURL:     dl.FinalURL,
		LocalPath:    out.FinalPath,
		SHA256:       dl.SHA256,
		ETag:         dl.ETag,
		LastModified: dl.LastModified,
	}
	if err := r.store.RecordAttempt(ctx, docURL, done); err != nil {
		zap.L().Warn("record done", zap.String("url", docURL), zap.Error(err))
	}
	r.processed.Add(1)
	r.status(docURL, "done")
}

func (r *Runner) handleNotModified(ctx context.Context, docURL string) {
	reprocessed := false
	if r.cfg.Crawl.ReprocessNotModified {
		ok, err := r.reprocessCached(ctx, docURL)
		if err != nil {
			r.logf("WARN: cached reprocess failed: %v", err)
		}
		reprocessed = ok
	}

	att := model.URLAttempt{Status: model.URLStatusDone, HTTPStatus: http.StatusNotModified}
	if err := r.store.RecordAttempt(ctx, docURL, att); err != nil {
		zap.L().Warn("record not modified", zap.String("url", docURL), zap.Error(err))
	}
	r.processed.Add(1)
	if reprocessed {
		r.status(docURL, "done (reprocessed cached)")
	} else {
		r.status(docURL, "done (not modified)")
	}
}

// reprocessCached re-runs the processing pass over the locally cached copy of
// an unchanged document. Missing records or files are skipped silently; the
// 304 alone keeps the URL done.
func (r *Runner) reprocessCached(ctx context.Context, docURL string) (bool, error) {
	rec, err := r.store.CachedRecord(ctx, docURL)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.LocalPath == "" {
		return false, nil
	}
	info, err := os.Stat(rec.LocalPath)
	if err != nil {
		return false, nil
	}

	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	sha := rec.SHA256
	if sha == "" {
		if sha, err = sha256File(rec.LocalPath); err != nil {
			return false, nil
		}
	}

	res := &fetch.Result{
		URL:         docURL,
		FinalURL:    rec.FinalURL,
		LocalPath:   rec.LocalPath,
		ContentType: contentType,
		FileSize:    info.Size(),
		SHA256:      sha,
		FetchedAt:   time.Now().UTC(),
	}
	if res.FinalURL == "" {
		res.FinalURL = docURL
	}

	out, err := r.processor.Process(ctx, res, ProcessOptions{ReprocessExisting: true})
	if err != nil {
		return false, err
	}
	if len(out.Hits) > 0 {
		r.matched.Add(1)
		r.logf("FLAGGED (cached reprocess): %s", filepath.Base(rec.LocalPath))
	}
	return true, nil
}

// failDocument records a failed document round. The first failure re-queues
// the URL as retry; a repeat failure within the run marks it error.
func (r *Runner) failDocument(ctx context.Context, docURL string, cause error) {
	r.failMu.Lock()
	r.failures[docURL]++
	rounds := r.failures[docURL]
	r.failMu.Unlock()

	status := model.URLStatusRetry
	if rounds >= maxDocumentRounds {
		status = model.URLStatusError
	}
	att := model.URLAttempt{Status: status, Error: cause.Error()}
	if err := r.store.RecordAttempt(ctx, docURL, att); err != nil {
		zap.L().Warn("record failure", zap.String("url", docURL), zap.Error(err))
	}
	r.status(docURL, "error: "+cause.Error())
	r.logf("ERROR: %s (%v)", docURL, cause)
}

// writeIndexes refreshes the ranked triage listings in the flagged tree.
func (r *Runner) writeIndexes(ctx context.Context) {
	rows, err := r.store.FlaggedDocs(ctx, flaggedExportLimit)
	if err != nil {
		r.logf("WARN: semantic index write failed: %v", err)
		return
	}

	flaggedDir := r.processor.Plan().FlaggedDir
	if _, err := export.WriteSemanticIndex(flaggedDir, rows); err != nil {
		r.logf("WARN: semantic index write failed: %v", err)
		return
	}

	var hv, ir []model.TriageRow
	for _, row := range rows {
		switch row.ReviewStatus {
		case model.ReviewHighValue:
			hv = append(hv, row)
		case model.ReviewIrrelevant:
			ir = append(ir, row)
		}
	}
	if _, err := export.WriteSemanticIndex(filepath.Join(flaggedDir, "high_value"), hv); err != nil {
		r.logf("WARN: semantic index write failed: %v", err)
		return
	}
	if _, err := export.WriteSemanticIndex(filepath.Join(flaggedDir, "irrelevant"), ir); err != nil {
		r.logf("WARN: semantic index write failed: %v", err)
	}
}

func (r *Runner) snapshotRelease(ctx context.Context) {
	diff, err := release.StoreSnapshotAndDiff(ctx, r.store)
	if err != nil {
		r.logf("WARN: release diff failed: %v", err)
		return
	}
	if len(diff.Added)+len(diff.Changed)+len(diff.Removed) > 0 {
		r.logf("Release diff: +%d / ~%d / -%d (vs last snapshot)",
			len(diff.Added), len(diff.Changed), len(diff.Removed))
	}
}

func (r *Runner) saveRunState(ctx context.Context, st RunState) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := r.store.KVSet(ctx, RunStateKey, string(data)); err != nil {
		zap.L().Warn("save run state", zap.Error(err))
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.events.Log != nil {
		r.events.Log(fmt.Sprintf(format, args...))
	}
}

func (r *Runner) status(url, state string) {
	if r.events.Status != nil {
		r.events.Status(url, state)
	}
}

func (r *Runner) progress() {
	if r.events.Progress != nil {
		r.events.Progress(int(r.processed.Load()), int(r.queued.Load()))
	}
}

func (r *Runner) finished() {
	if r.events.Finished != nil {
		r.events.Finished()
	}
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
