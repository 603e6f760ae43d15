package fetch

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserFetcher renders pages in headless Chrome. It exists for listing
// pages that edge networks refuse to serve to plain HTTP clients.
type BrowserFetcher struct {
	userAgent   string
	navTimeout  time.Duration
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewBrowserFetcher starts a headless Chrome allocator. Callers must Close.
func NewBrowserFetcher(userAgent string, navTimeout time.Duration) *BrowserFetcher {
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserFetcher{
		userAgent:   userAgent,
		navTimeout:  navTimeout,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close shuts the browser allocator down.
func (b *BrowserFetcher) Close() {
	b.allocCancel()
}

// RenderHTML navigates to the URL and returns the rendered DOM and the
// post-redirect location.
func (b *BrowserFetcher) RenderHTML(ctx context.Context, rawURL string) (finalURL, html string, err error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout)
	defer cancel()

	// Honor caller cancellation alongside the navigation timeout.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-done:
		}
	}()

	zap.L().Debug("rendering page with headless browser", zap.String("url", rawURL))
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if b.userAgent == "" {
				return nil
			}
			return emulation.SetUserAgentOverride(b.userAgent).Do(ctx)
		}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", "", eris.Wrap(err, "fetch: browser render")
	}
	return finalURL, html, nil
}
