// Package fetch downloads the shop sitemap and product pages.
package fetch

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxPageSize bounds a single response body.
const maxPageSize = 16 << 20

// Options configures a Fetcher.
type Options struct {
	SitemapURL     string
	Includes       []string
	Excludes       []string
	UserAgent      string
	RequestsPerSec float64
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Fetcher implements port.PageFetcher over HTTP. All requests share one rate
// limiter so a sitemap walk never floods the shop.
type Fetcher struct {
	sitemapURL string
	userAgent  string
	matcher    *Matcher
	limiter    *rate.Limiter
	client     *http.Client
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	return &Fetcher{
		sitemapURL: opts.SitemapURL,
		userAgent:  opts.UserAgent,
		matcher:    NewMatcher(opts.Includes, opts.Excludes),
		limiter:    rate.NewLimiter(limit, 1),
		client:     client,
	}
}

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// ListSources returns the product URLs of the sitemap in document order,
// without duplicates. A sitemap index is followed one level deep.
func (f *Fetcher) ListSources(ctx context.Context) ([]string, error) {
	set, err := f.sitemap(ctx, f.sitemapURL)
	if err != nil {
		return nil, err
	}

	locs := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		locs = append(locs, u.Loc)
	}
	for _, sm := range set.Sitemaps {
		child, err := f.sitemap(ctx, strings.TrimSpace(sm.Loc))
		if err != nil {
			return nil, err
		}
		for _, u := range child.URLs {
			locs = append(locs, u.Loc)
		}
	}

	seen := make(map[string]bool, len(locs))
	var out []string
	for _, loc := range locs {
		loc = strings.TrimSpace(loc)
		if loc == "" || seen[loc] || !f.matcher.Match(loc) {
			continue
		}
		seen[loc] = true
		out = append(out, loc)
	}
	zap.L().Info("fetch: sitemap loaded",
		zap.String("url", f.sitemapURL),
		zap.Int("entries", len(locs)),
		zap.Int("products", len(out)),
	)
	return out, nil
}

func (f *Fetcher) sitemap(ctx context.Context, url string) (*urlSet, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, eris.Wrapf(err, "fetch: parse sitemap %s", url)
	}
	return &set, nil
}

// Fetch downloads one product page.
func (f *Fetcher) Fetch(ctx context.Context, sourceID string) (string, error) {
	body, err := f.get(ctx, sourceID)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: create request for %s", url)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: get %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetch: %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read %s", url)
	}
	return body, nil
}
