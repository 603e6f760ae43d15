// Package scope decides which URLs a crawl is permitted to visit: same-site
// checks, seed path prefixes for page crawling, and robots.txt policy.
package scope

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

// Options configures a Guard.
type Options struct {
	UserAgent     string
	AllowOffsite  bool
	RespectRobots bool
}

// Guard answers scope questions for one crawl run. Page crawling is confined
// to the seed path prefixes; documents only have to pass the site and robots
// checks, since file hosting often lives outside the listing section.
type Guard struct {
	seeds        []string
	pathPrefixes []string
	opts         Options
	group        *robotstxt.Group // nil allows everything
}

// NewGuard builds a Guard for the given seeds. The robots.txt policy is
// fetched once from the first seed's host; a failed fetch or an error status
// yields an allow-all policy.
func NewGuard(ctx context.Context, client *http.Client, seeds []string, opts Options) *Guard {
	g := &Guard{
		seeds: seeds,
		opts:  opts,
	}
	for _, s := range seeds {
		u, err := url.Parse(s)
		if err != nil {
			continue
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		exact := strings.TrimRight(path, "/")
		if exact == "" {
			exact = "/"
		}
		prefix := exact
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		// The exact path admits the seed itself, the slash form its children.
		g.pathPrefixes = append(g.pathPrefixes, exact, prefix)
	}
	if opts.RespectRobots && len(seeds) > 0 {
		g.group = fetchRobotsGroup(ctx, client, seeds[0], opts.UserAgent)
	}
	return g
}

// SiteAllowed reports whether the URL is on one of the seed sites, ignoring a
// leading "www.". Always true when off-site crawling is enabled.
func (g *Guard) SiteAllowed(raw string) bool {
	if g.opts.AllowOffsite {
		return true
	}
	for _, s := range g.seeds {
		if urlutil.IsSameSite(raw, s) {
			return true
		}
	}
	return false
}

// PageInScope reports whether a page URL falls under one of the seed path
// prefixes. Document URLs are not subject to this check.
func (g *Guard) PageInScope(raw string) bool {
	if len(g.pathPrefixes) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, pref := range g.pathPrefixes {
		if pref == "/" {
			return true
		}
		if path == pref {
			return true
		}
		if strings.HasSuffix(pref, "/") && strings.HasPrefix(path, pref) {
			return true
		}
	}
	return false
}

// RobotsAllowed reports whether robots.txt permits fetching the URL.
func (g *Guard) RobotsAllowed(raw string) bool {
	if g.group == nil {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return g.group.Test(path)
}

// Allowed combines the site and robots checks. This is the gate every fetch,
// page or document, must pass.
func (g *Guard) Allowed(raw string) bool {
	return g.SiteAllowed(raw) && g.RobotsAllowed(raw)
}

func fetchRobotsGroup(ctx context.Context, client *http.Client, seed, userAgent string) *robotstxt.Group {
	u, err := url.Parse(seed)
	if err != nil {
		return nil
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		zap.L().Warn("robots fetch failed, allowing all", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		zap.L().Warn("robots fetch returned error status, allowing all",
			zap.String("url", robotsURL),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		zap.L().Warn("robots body read failed, allowing all", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		zap.L().Warn("robots parse failed, allowing all", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}
	return data.FindGroup(userAgent)
}
