package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shaHexOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func newTestDownloader(t *testing.T, srv *httptest.Server, opts DownloaderOptions) *Downloader {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "disclosures-crawler/1.0"
	}
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 1000
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 10 * time.Millisecond
	}
	var client *http.Client
	if srv != nil {
		client = srv.Client()
	}
	return NewDownloader(client, opts)
}

// --- Basic downloads ---

func TestDownloader_Download(t *testing.T) {
	body := []byte("hello disclosure")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir})

	res, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.NoError(t, err)

	assert.Equal(t, shaHexOf(body), res.SHA256)
	assert.Equal(t, int64(len(body)), res.FileSize)
	assert.Equal(t, "text/plain", res.ContentType)
	assert.Equal(t, `"abc123"`, res.ETag)
	assert.Equal(t, filepath.Join(outDir, "file.txt"), res.LocalPath)

	got, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = os.Stat(filepath.Join(outDir, ".parts"))
	assert.True(t, os.IsNotExist(err), "parts dir should be cleaned up")
}

func TestDownloader_ResumesPartialDownload(t *testing.T) {
	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("world"))
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	partsDir := filepath.Join(outDir, ".parts")
	require.NoError(t, os.MkdirAll(partsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partsDir, "file.txt.part"), []byte("hello "), 0o644))

	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir})

	res, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.NoError(t, err)

	assert.Equal(t, "bytes=6-", gotRange.Load())
	got, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, shaHexOf([]byte("hello world")), res.SHA256)
	assert.Equal(t, int64(len("hello world")), res.FileSize)
}

func TestDownloader_RangeDropsConditionalHeaders(t *testing.T) {
	var sawConditional atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			sawConditional.Store(true)
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("rest"))
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	partsDir := filepath.Join(outDir, ".parts")
	require.NoError(t, os.MkdirAll(partsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partsDir, "file.txt.part"), []byte("the "), 0o644))

	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir})

	_, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", map[string]string{
		"If-None-Match":     `"abc"`,
		"If-Modified-Since": "Mon, 01 Jan 2024 00:00:00 GMT",
	})
	require.NoError(t, err)
	assert.False(t, sawConditional.Load(), "conditional headers must not accompany a Range request")
}

func TestDownloader_ServerIgnoresRangeRestartsClean(t *testing.T) {
	body := []byte("full body from scratch")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(body) // 200, Range ignored
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	partsDir := filepath.Join(outDir, ".parts")
	require.NoError(t, os.MkdirAll(partsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partsDir, "file.txt.part"), []byte("stale-partial"), 0o644))

	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir})

	res, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.NoError(t, err)

	got, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, shaHexOf(body), res.SHA256)
}

// --- Conditional fetch ---

func TestDownloader_NotModified(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotModified)
	}))
	t.Cleanup(srv.Close)

	d := newTestDownloader(t, srv, DownloaderOptions{MaxRetries: 3})

	_, err := d.Download(context.Background(), srv.URL+"/file.pdf", "file.pdf", map[string]string{
		"If-None-Match": `"abc"`,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotModified))
	assert.Equal(t, int64(1), hits.Load(), "304 must not be retried")
}

// --- Retry ---

func TestDownloader_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	body := []byte("eventually fine")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	d := newTestDownloader(t, srv, DownloaderOptions{MaxRetries: 3})

	res, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, shaHexOf(body), res.SHA256)
}

func TestDownloader_ExhaustedRetriesFail(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	d := newTestDownloader(t, srv, DownloaderOptions{MaxRetries: 2})

	_, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 500")
	assert.Equal(t, int64(3), hits.Load())
}

// --- Storage layouts ---

func TestDownloader_HashedLayout(t *testing.T) {
	body := []byte("hello hashed")
	sha := shaHexOf(body)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir, Layout: "hashed"})

	res, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.NoError(t, err)

	assert.Equal(t, sha, res.SHA256)
	assert.Equal(t, filepath.Join(outDir, sha[:2], sha[2:4], sha+".txt"), res.LocalPath)
	got, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownloader_HashedLayoutShortCircuitsExistingContent(t *testing.T) {
	body := []byte("same bytes twice")
	sha := shaHexOf(body)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir, Layout: "hashed"})

	first, err := d.Download(context.Background(), srv.URL+"/a.txt", "a.txt", nil)
	require.NoError(t, err)
	second, err := d.Download(context.Background(), srv.URL+"/b.txt", "b.txt", nil)
	require.NoError(t, err)

	assert.Equal(t, first.LocalPath, second.LocalPath)
	assert.Equal(t, filepath.Join(outDir, sha[:2], sha[2:4], sha+".txt"), second.LocalPath)

	_, err = os.Stat(filepath.Join(outDir, ".parts", "b.txt.part"))
	assert.True(t, os.IsNotExist(err), "redundant partial should be discarded")
}

func TestDownloader_FlatCollisionAppendsHashPrefix(t *testing.T) {
	body := []byte("new content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "file.txt"), []byte("older content"), 0o644))

	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir})

	res, err := d.Download(context.Background(), srv.URL+"/file.txt", "file.txt", nil)
	require.NoError(t, err)

	sha := shaHexOf(body)
	assert.Equal(t, filepath.Join(outDir, "file-"+sha[:8]+".txt"), res.LocalPath)

	older, err := os.ReadFile(filepath.Join(outDir, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "older content", string(older))
}

// --- PDF validation and the age gate ---

func TestDownloader_RejectsHTMLForPDFURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = w.Write([]byte("<!doctype html><html><body>an error page</body></html>"))
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	d := newTestDownloader(t, srv, DownloaderOptions{OutputDir: outDir, MaxRetries: 0})

	_, err := d.Download(context.Background(), srv.URL+"/doc.pdf", "doc.pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected pdf")

	diag, err := os.ReadFile(filepath.Join(outDir, "doc.pdf.not_pdf.html"))
	require.NoError(t, err)
	assert.Contains(t, string(diag), "error page")
}

func TestDownloader_AgeGateConsentRetriesWithCookie(t *testing.T) {
	ageHTML := []byte(`<!doctype html><html><head><link rel="canonical" href="/age-verify" /></head><body>Are you 18 years of age or older?</body></html>`)
	pdf := []byte("%PDF-1.7\nfake body\n%%EOF")

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if _, err := r.Cookie("justiceGovAgeVerified"); err == nil {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(pdf)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = w.Write(ageHTML)
	}))
	t.Cleanup(srv.Close)

	gateHost, err := url.Parse(srv.URL)
	require.NoError(t, err)

	outDir := t.TempDir()
	d := newTestDownloader(t, srv, DownloaderOptions{
		OutputDir:      outDir,
		MaxRetries:     0,
		AgeGateConsent: true,
		AgeGateDomain:  gateHost.Host,
	})

	res, err := d.Download(context.Background(), srv.URL+"/files/EFTA00000024.pdf", "EFTA00000024.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load(), "age gate then pdf")

	got, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.True(t, len(got) > 5 && string(got[:5]) == "%PDF-")
}

func TestDownloader_AgeGateWithoutConsentSavesDiagnostic(t *testing.T) {
	ageHTML := []byte(`<!doctype html><html><head><link rel="canonical" href="/age-verify" /></head><body>Are you 18 years of age or older?</body></html>`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = w.Write(ageHTML)
	}))
	t.Cleanup(srv.Close)

	gateHost, err := url.Parse(srv.URL)
	require.NoError(t, err)

	outDir := t.TempDir()
	d := newTestDownloader(t, srv, DownloaderOptions{
		OutputDir:     outDir,
		MaxRetries:    0,
		AgeGateDomain: gateHost.Host,
	})

	_, err = d.Download(context.Background(), srv.URL+"/files/EFTA00000024.pdf", "EFTA00000024.pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "age verification")

	diag, err := os.ReadFile(filepath.Join(outDir, "EFTA00000024.pdf.not_pdf.html"))
	require.NoError(t, err)
	assert.Contains(t, string(diag), "age-verify")
}

// --- Host gating helpers ---

func TestAgeGatedHost(t *testing.T) {
	assert.True(t, ageGatedHost("www.justice.gov", "justice.gov"))
	assert.True(t, ageGatedHost("media.justice.gov", "justice.gov"))
	assert.True(t, ageGatedHost("justice.gov", "justice.gov"))
	assert.False(t, ageGatedHost("justice.gov.example.com", "justice.gov"))
	assert.False(t, ageGatedHost("example.com", "justice.gov"))
}
