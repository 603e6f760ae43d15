package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/resilience"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

const (
	sniffLen  = 2048
	chunkSize = 256 * 1024

	ageCookieName    = "justiceGovAgeVerified"
	defaultGateHost  = "justice.gov"
	acceptDocuments  = "application/pdf,application/octet-stream,application/msword,application/vnd.openxmlformats-officedocument.wordprocessingml.document,text/plain,*/*"
	partsDirName     = ".parts"
	notPDFDiagSuffix = ".not_pdf.html"
)

// DownloaderOptions configures the document downloader.
type DownloaderOptions struct {
	UserAgent      string
	OutputDir      string
	Layout         string // "flat" or "hashed"
	MaxRetries     int
	BackoffBase    time.Duration
	RatePerSecond  float64
	Timeout        time.Duration // per attempt; zero means no deadline
	AgeGateConsent bool
	AgeGateDomain  string // host suffix the consent cookie applies to
	Pause          Pauser
}

// Downloader fetches documents with resumable Range requests, a running
// SHA-256 digest, PDF content validation, and flat or hashed storage layout.
type Downloader struct {
	client      *http.Client
	opts        DownloaderOptions
	limiter     *rate.Limiter
	throttle    *HostThrottle
	ageVerified atomic.Bool
}

// NewDownloader creates a Downloader. A nil client gets a default one.
func NewDownloader(client *http.Client, opts DownloaderOptions) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	if opts.AgeGateDomain == "" {
		opts.AgeGateDomain = defaultGateHost
	}
	rps := opts.RatePerSecond
	if rps < 0.1 {
		rps = 0.1
	}
	return &Downloader{
		client:   client,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		throttle: NewHostThrottle(rps),
	}
}

// Download fetches one document URL. cacheHeaders may carry If-None-Match /
// If-Modified-Since validators; a 304 response returns ErrNotModified.
// Failed attempts retry with exponential backoff up to MaxRetries times.
func (d *Downloader) Download(ctx context.Context, rawURL, title string, cacheHeaders map[string]string) (*Result, error) {
	cfg := resilience.RetryConfig{
		MaxAttempts:    d.opts.MaxRetries + 1,
		InitialBackoff: d.opts.BackoffBase,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.15,
		// Unlike API calls, any failed download attempt is worth retrying.
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, ErrNotModified)
		},
		OnRetry: resilience.RetryLogger("fetch", "download"),
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		if d.opts.Pause != nil {
			if err := d.opts.Pause.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := d.throttle.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
		attemptCtx := ctx
		if d.opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
			defer cancel()
		}
		return d.downloadOnce(attemptCtx, rawURL, title, cacheHeaders, true)
	})
}

func (d *Downloader) downloadOnce(ctx context.Context, rawURL, title string, cacheHeaders map[string]string, allowAgeRetry bool) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: parse url")
	}

	baseName := title
	if baseName == "" {
		baseName = path.Base(u.Path)
	}
	if baseName == "" || baseName == "/" || baseName == "." {
		baseName = "document"
	}
	baseName = urlutil.SafeFilename(baseName, 160)

	partsDir := filepath.Join(d.opts.OutputDir, partsDirName)
	partPath := filepath.Join(partsDir, baseName+".part")
	finalPath := filepath.Join(d.opts.OutputDir, baseName)

	expectPDFByURL := strings.HasSuffix(strings.ToLower(u.Path), ".pdf")

	var existingSize int64
	if fi, err := os.Stat(partPath); err == nil {
		existingSize = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: build request")
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	req.Header.Set("Accept", acceptDocuments)
	for k, v := range cacheHeaders {
		req.Header.Set(k, v)
	}
	if existingSize > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(existingSize, 10)+"-")
		// Conditional GET is only safe when requesting full content.
		req.Header.Del("If-None-Match")
		req.Header.Del("If-Modified-Since")
	}
	gatedHost := ageGatedHost(u.Host, d.opts.AgeGateDomain)
	if gatedHost && d.ageVerified.Load() {
		req.AddCookie(&http.Cookie{Name: ageCookieName, Value: "true"})
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: request")
	}
	defer resp.Body.Close()

	d.throttle.NoteResult(rawURL, resp.StatusCode)
	finalURL := resp.Request.URL.String()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode >= 400 {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: http %d for %s", resp.StatusCode, rawURL), resp.StatusCode)
	}

	if existingSize > 0 && resp.StatusCode == http.StatusOK {
		// Server ignored the Range request; start over from scratch.
		_ = os.Remove(partPath)
		existingSize = 0
	}

	contentType := resp.Header.Get("Content-Type")
	expectPDF := expectPDFByURL || strings.Contains(strings.ToLower(contentType), "pdf")
	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")

	digest := sha256.New()
	sniff := make([]byte, 0, sniffLen)
	written := existingSize

	if existingSize > 0 {
		// Resume: the digest must cover the bytes already on disk, and the
		// content sniff must see the file's first bytes, not mid-stream ones.
		f, err := os.Open(partPath)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: open partial")
		}
		head := make([]byte, sniffLen)
		n, _ := io.ReadFull(f, head)
		sniff = append(sniff, head[:n]...)
		digest.Write(head[:n])
		if _, err := io.Copy(digest, f); err != nil {
			f.Close()
			return nil, eris.Wrap(err, "fetch: hash partial")
		}
		f.Close()
	}

	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "fetch: create parts dir")
	}
	out, err := os.OpenFile(partPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: open partial for append")
	}

	buf := make([]byte, chunkSize)
	streamErr := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.opts.Pause != nil {
				if err := d.opts.Pause.Wait(ctx); err != nil {
					return err
				}
			}
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if len(sniff) < sniffLen {
					need := sniffLen - len(sniff)
					if need > n {
						need = n
					}
					sniff = append(sniff, buf[:need]...)
				}
				if _, werr := out.Write(buf[:n]); werr != nil {
					return eris.Wrap(werr, "fetch: write partial")
				}
				digest.Write(buf[:n])
				written += int64(n)
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return eris.Wrap(rerr, "fetch: read body")
			}
		}
	}()
	if cerr := out.Close(); cerr != nil && streamErr == nil {
		streamErr = eris.Wrap(cerr, "fetch: close partial")
	}
	if streamErr != nil {
		return nil, streamErr
	}

	shaHex := hex.EncodeToString(digest.Sum(nil))

	if expectPDF {
		headLow := bytes.ToLower(sniff)
		looksPDF := bytes.HasPrefix(bytes.TrimLeft(sniff, "\r\n\t "), []byte("%PDF-"))
		looksHTML := bytes.Contains(headLow, []byte("<html")) || bytes.Contains(headLow, []byte("<!doctype html"))
		htmlish := strings.Contains(strings.ToLower(contentType), "text/html") || looksHTML
		gatePage := isAgeGatePage(headLow, finalURL)
		consented := gatedHost && d.opts.AgeGateConsent

		if htmlish && gatePage && consented && allowAgeRetry && !d.ageVerified.Load() {
			zap.L().Warn("age verification gate detected, setting consent cookie and retrying once",
				zap.String("url", rawURL),
			)
			d.ageVerified.Store(true)
			_ = os.Remove(partPath)
			return d.downloadOnce(ctx, rawURL, title, cacheHeaders, false)
		}
		if htmlish && gatePage && !consented {
			badName := filepath.Base(finalPath) + notPDFDiagSuffix
			_ = os.Rename(partPath, filepath.Join(d.opts.OutputDir, badName))
			return nil, eris.Errorf(
				"fetch: age verification page returned instead of a pdf for %s; set crawl.age_gate_consent to allow age-gated downloads (content_type=%q, http_status=%d, saved=%q)",
				rawURL, contentType, resp.StatusCode, badName)
		}
		if htmlish || !looksPDF {
			badName := filepath.Base(finalPath) + notPDFDiagSuffix
			_ = os.Rename(partPath, filepath.Join(d.opts.OutputDir, badName))
			return nil, eris.Errorf(
				"fetch: expected pdf but received non-pdf content for %s (content_type=%q, http_status=%d, saved=%q)",
				rawURL, contentType, resp.StatusCode, badName)
		}
	}

	if filepath.Ext(finalPath) == "" && strings.Contains(strings.ToLower(contentType), "pdf") {
		finalPath += ".pdf"
	}

	switch strings.ToLower(strings.TrimSpace(d.opts.Layout)) {
	case "hashed":
		// output/ab/cd/<sha256>.<ext> keeps directories small and dedups
		// identical content at the filesystem level.
		subdir := filepath.Join(d.opts.OutputDir, shaHex[:2], shaHex[2:4])
		hashedPath := filepath.Join(subdir, shaHex+filepath.Ext(finalPath))
		if _, err := os.Stat(hashedPath); err == nil {
			_ = os.Remove(partPath)
			finalPath = hashedPath
		} else {
			if err := os.MkdirAll(subdir, 0o755); err != nil {
				return nil, eris.Wrap(err, "fetch: create hashed dir")
			}
			if err := os.Rename(partPath, hashedPath); err != nil {
				return nil, eris.Wrap(err, "fetch: finalize hashed")
			}
			finalPath = hashedPath
		}
	default:
		if _, err := os.Stat(finalPath); err == nil {
			ext := filepath.Ext(finalPath)
			stem := strings.TrimSuffix(filepath.Base(finalPath), ext)
			finalPath = filepath.Join(d.opts.OutputDir, stem+"-"+shaHex[:8]+ext)
		}
		if err := os.Rename(partPath, finalPath); err != nil {
			return nil, eris.Wrap(err, "fetch: finalize")
		}
	}

	if entries, err := os.ReadDir(partsDir); err == nil && len(entries) == 0 {
		_ = os.Remove(partsDir)
	}

	return &Result{
		URL:          rawURL,
		FinalURL:     finalURL,
		LocalPath:    finalPath,
		ContentType:  contentType,
		FileSize:     written,
		SHA256:       shaHex,
		FetchedAt:    time.Now().UTC(),
		ETag:         etag,
		LastModified: lastModified,
	}, nil
}

// ageGatedHost reports whether the consent cookie applies to the host.
func ageGatedHost(host, domain string) bool {
	host = strings.ToLower(host)
	return host == domain || host == "www."+domain || strings.HasSuffix(host, "."+domain)
}

// isAgeGatePage recognizes the age-verification interstitial by body markers
// or by the post-redirect URL.
func isAgeGatePage(headLow []byte, finalURL string) bool {
	for _, marker := range [][]byte{
		[]byte("/age-verify"),
		[]byte("are you 18"),
		[]byte("age verification"),
		[]byte("age-verify-block"),
	} {
		if bytes.Contains(headLow, marker) {
			return true
		}
	}
	return strings.Contains(finalURL, "/age-verify")
}
