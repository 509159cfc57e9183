package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"harvest/internal/models"

	log "github.com/sirupsen/logrus"
)

// Actors maps short actor names to Apify actor IDs. Unknown names are
// passed through as full IDs.
var Actors = map[string]string{
	"instagram_profile": "apify/instagram-profile-scraper",
	"instagram_post":    "apify/instagram-post-scraper",
	"instagram_hashtag": "apify/instagram-hashtag-scraper",
	"twitter_profile":   "quacker/twitter-scraper",
	"twitter_search":    "quacker/twitter-search",
	"linkedin_profile":  "anchor/linkedin-profile-scraper",
	"linkedin_company":  "anchor/linkedin-company-scraper",
	"facebook_page":     "apify/facebook-pages-scraper",
	"youtube_channel":   "streamers/youtube-channel-scraper",
	"youtube_video":     "bernardo/youtube-scraper",
	"tiktok_profile":    "clockworks/tiktok-scraper",
}

const defaultApifyBaseURL = "https://api.apify.com"

// SocialConfig configures the Apify client.
type SocialConfig struct {
	Token        string
	BaseURL      string
	DefaultActor string
	Timeout      time.Duration
}

// SocialProvider runs Apify actors synchronously and formats the dataset
// items they return.
type SocialProvider struct {
	cfg    SocialConfig
	client *http.Client
}

var _ Provider = (*SocialProvider)(nil)

func NewSocialProvider(cfg SocialConfig, client *http.Client) (*SocialProvider, error) {
	if cfg.Token == "" {
		return nil, errors.New("apify token is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultApifyBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if client == nil {
		client = &http.Client{}
	}
	return &SocialProvider{cfg: cfg, client: client}, nil
}

func (p *SocialProvider) Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error) {
	opts, err := ParseSocialOptions(req.Options)
	if err != nil {
		return nil, err
	}
	actor := opts.Actor
	if actor == "" {
		actor = p.cfg.DefaultActor
	}
	if actor == "" {
		return nil, newFatal("no actor specified for social media extraction", nil)
	}
	input := opts.ActorInput
	if len(input) == 0 && req.Target != "" {
		input = map[string]any{"startUrls": []map[string]string{{"url": req.Target}}}
	}

	items, err := p.runActor(ctx, actor, input)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, newFatal("no results returned from actor "+actor, nil)
	}

	content := formatItems(items)
	return &models.ExtractedDocument{
		Source:      models.SourceSocial,
		SourceURL:   req.Target,
		Content:     content,
		ContentType: models.ContentText,
		Metadata: models.Metadata{
			Title:     "Social Media: " + actor,
			WordCount: len(strings.Fields(content)),
			Custom: map[string]any{
				"actor":       actor,
				"items_count": len(items),
				"source_url":  req.Target,
			},
		},
		ExtractedAt: time.Now().UTC(),
	}, nil
}

func (p *SocialProvider) runActor(ctx context.Context, actor string, input map[string]any) ([]map[string]any, error) {
	actorID := actor
	if id, ok := Actors[actor]; ok {
		actorID = id
	}
	if input == nil {
		input = map[string]any{}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, newFatal("encode actor input", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("token", p.cfg.Token)
	q.Set("timeout", fmt.Sprintf("%d", int(p.cfg.Timeout.Seconds())))
	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(strings.ReplaceAll(actorID, "/", "~")), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newFatal("build actor request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	logger := log.WithField("actor", actorID)
	logger.Info("starting actor")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		// The token is in the query string; keep it out of the error text.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, classifyTransportError("run actor "+actorID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyHTTPStatus("actor "+actorID, resp.StatusCode)
	}
	raw, err := readLimited(resp.Body)
	if err != nil {
		return nil, classifyTransportError("read actor results", err)
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, newFatal("decode actor results", err)
	}
	logger.WithField("items_count", len(items)).Info("actor completed")
	return items, nil
}

func (p *SocialProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var countFields = []string{"likes", "comments", "shares", "views", "followers"}

// formatItems renders dataset items as numbered text blocks with the
// common author/date/content fields and engagement counts.
func formatItems(items []map[string]any) string {
	parts := make([]string, 0, len(items))
	for i, item := range items {
		var b strings.Builder
		fmt.Fprintf(&b, "--- Item %d ---\n", i+1)
		if v := firstField(item, "ownerUsername", "author", "username"); v != "" {
			fmt.Fprintf(&b, "Author: %s\n", v)
		}
		if v := firstField(item, "timestamp", "date", "createdAt"); v != "" {
			fmt.Fprintf(&b, "Date: %s\n", v)
		}
		if v := firstField(item, "text", "caption", "description"); v != "" {
			fmt.Fprintf(&b, "Content: %s\n", v)
		}
		for _, k := range countFields {
			if v, ok := item[k]; ok && v != nil {
				fmt.Fprintf(&b, "%s: %v\n", strings.ToUpper(k[:1])+k[1:], v)
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

func firstField(item map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return ""
}

// ActorNames lists the short actor names in sorted order.
func ActorNames() []string {
	names := make([]string, 0, len(Actors))
	for n := range Actors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
