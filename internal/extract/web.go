package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"harvest/internal/models"

	log "github.com/sirupsen/logrus"
)

// WebProvider fetches pages over plain HTTP and extracts their text. It
// does not run scripts; use BrowserProvider for client-rendered pages.
type WebProvider struct {
	client    *http.Client
	userAgent string
}

var _ Provider = (*WebProvider)(nil)

func NewWebProvider(client *http.Client, userAgent string) *WebProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebProvider{client: client, userAgent: userAgent}
}

func (p *WebProvider) Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error) {
	if err := requireHTTPURL(req.Target); err != nil {
		return nil, err
	}
	opts, err := ParseWebOptions(req.Options)
	if err != nil {
		return nil, err
	}
	if opts.WaitForSelector != "" || opts.Screenshot {
		log.WithField("url", req.Target).Debug("wait_for_selector and screenshot need the browser engine; ignoring")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(opts.WaitTimeout)*time.Millisecond)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Target, nil)
	if err != nil {
		return nil, newFatal("build request", err)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if p.userAgent != "" {
		httpReq.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("fetch "+req.Target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyHTTPStatus("fetch "+req.Target, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return nil, newFatal(fmt.Sprintf("unsupported content type %q for web extraction", ct), nil)
	}

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, classifyTransportError("read "+req.Target, err)
	}

	finalURL := req.Target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return documentFromHTML(models.SourceWeb, finalURL, string(body), opts)
}

func (p *WebProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func requireHTTPURL(target string) error {
	if target == "" {
		return newFatal("a URL is required", nil)
	}
	if !isHTTPURL(target) {
		return newFatal(fmt.Sprintf("invalid URL %q: expected http or https", target), nil)
	}
	return nil
}

func isHTTPURL(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
