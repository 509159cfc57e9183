package extract

import (
	"context"
	"errors"
	"time"

	"harvest/internal/models"

	"github.com/naozine/nz-html-fetch/pkg/htmlfetch"
)

// BrowserConfig configures the headless browser used for web pages.
type BrowserConfig struct {
	Path     string
	Proxy    string
	Stealth  bool
	BlockAds bool
}

// BrowserProvider renders pages in a headless browser before extracting
// them. The browser is started once and shared by all jobs.
type BrowserProvider struct {
	fetcher  *htmlfetch.Fetcher
	blockAds bool
}

var _ Provider = (*BrowserProvider)(nil)

// NewBrowserProvider launches the browser.
func NewBrowserProvider(cfg BrowserConfig) (*BrowserProvider, error) {
	var opts []htmlfetch.Option
	if cfg.Path != "" {
		opts = append(opts, htmlfetch.WithBrowserPath(cfg.Path))
	}
	if cfg.Proxy != "" {
		opts = append(opts, htmlfetch.WithProxy(cfg.Proxy))
	}
	opts = append(opts, htmlfetch.WithStealth(cfg.Stealth))

	fetcher := htmlfetch.New(opts...)
	if err := fetcher.Start(); err != nil {
		return nil, err
	}
	return &BrowserProvider{fetcher: fetcher, blockAds: cfg.BlockAds}, nil
}

func (p *BrowserProvider) Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error) {
	if err := requireHTTPURL(req.Target); err != nil {
		return nil, err
	}
	opts, err := ParseWebOptions(req.Options)
	if err != nil {
		return nil, err
	}
	wait := time.Duration(opts.WaitTimeout) * time.Millisecond

	var fetchOpts []htmlfetch.FetchOption
	if p.blockAds {
		fetchOpts = append(fetchOpts, htmlfetch.WithBlocking(htmlfetch.BlockingOptions{Ads: true}))
	}
	if opts.WaitForSelector != "" {
		fetchOpts = append(fetchOpts, htmlfetch.WithSelector(opts.WaitForSelector, wait))
	}

	// Page load and selector wait share one deadline.
	ctx, cancel := context.WithTimeout(ctx, 2*wait)
	defer cancel()

	result, err := p.fetcher.Fetch(ctx, req.Target, fetchOpts...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, newFatal("render "+req.Target+" cancelled", err)
		}
		return nil, newTransient("render "+req.Target, err)
	}

	pageURL := result.FinalURL
	if pageURL == "" {
		pageURL = req.Target
	}
	doc, err := documentFromHTML(models.SourceWeb, pageURL, result.HTML, opts)
	if err != nil {
		return nil, err
	}
	doc.Metadata.Custom = withCustom(doc.Metadata.Custom, "render_ms", result.Duration.Milliseconds())
	return doc, nil
}

func (p *BrowserProvider) Close() error {
	if p.fetcher == nil {
		return nil
	}
	return p.fetcher.Close()
}

func withCustom(m map[string]any, key string, v any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	m[key] = v
	return m
}
