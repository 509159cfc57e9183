package extract

import (
	"net/url"
	"strings"
	"time"

	"harvest/internal/models"

	"golang.org/x/net/html"
)

// Tags whose content never contributes to the extracted text.
var ignoreTags = map[string]bool{
	"script": true, "style": true, "nav": true,
	"footer": true, "aside": true, "form": true, "noscript": true,
	"iframe": true, "svg": true, "template": true,
}

// documentFromHTML turns a rendered page into a document: visible text in
// block order, head metadata, optional links and the raw markup.
func documentFromHTML(source models.SourceKind, pageURL, raw string, opts WebOptions) (*models.ExtractedDocument, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, models.NewFatalError("parse HTML", err)
	}

	remove := parseSelectors(opts.RemoveSelectors)
	meta := models.Metadata{}
	var links []string
	seenLinks := map[string]bool{}
	base, _ := url.Parse(pageURL)

	var text strings.Builder
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html":
				meta.Language = attr(n, "lang")
			case "head":
				inHead = true
			case "title":
				if meta.Title == "" && n.FirstChild != nil {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				readMeta(n, &meta)
			case "a":
				if opts.ExtractLinks {
					if href := resolveLink(base, attr(n, "href")); href != "" && !seenLinks[href] {
						seenLinks[href] = true
						links = append(links, href)
					}
				}
			}
			if ignoreTags[n.Data] || matchesAny(n, remove) {
				return
			}
		}

		if n.Type == html.TextNode && !inHead {
			if t := strings.TrimSpace(strings.ReplaceAll(n.Data, "\u00a0", " ")); t != "" {
				if text.Len() > 0 && !strings.HasSuffix(text.String(), "\n") {
					text.WriteString(" ")
				}
				text.WriteString(t)
			}
		}

		block := isBlockElement(n)
		if block {
			endBlock(&text)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead)
		}
		if block {
			endBlock(&text)
		}
	}
	walk(root, false)

	content := strings.TrimSpace(text.String())
	meta.WordCount = len(strings.Fields(content))
	if len(links) > 0 {
		meta.Custom = map[string]any{"links": links}
	}

	return &models.ExtractedDocument{
		Source:      source,
		SourceURL:   pageURL,
		Content:     content,
		ContentType: models.ContentText,
		Metadata:    meta,
		RawHTML:     raw,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

func endBlock(b *strings.Builder) {
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n\n") {
		if strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		} else {
			b.WriteString("\n\n")
		}
	}
}

func readMeta(n *html.Node, meta *models.Metadata) {
	name := strings.ToLower(attr(n, "name"))
	if name == "" {
		name = strings.ToLower(attr(n, "property"))
	}
	content := strings.TrimSpace(attr(n, "content"))
	if content == "" {
		return
	}
	switch name {
	case "description", "og:description":
		if meta.Description == "" {
			meta.Description = content
		}
	case "author":
		meta.Author = content
	case "og:title":
		if meta.Title == "" {
			meta.Title = content
		}
	case "keywords":
		for _, k := range strings.Split(content, ",") {
			if k = strings.TrimSpace(k); k != "" {
				meta.Tags = append(meta.Tags, k)
			}
		}
	}
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// selector is the subset of CSS selectors accepted by remove_selectors:
// tag, #id, .class and tag.class.
type selector struct {
	tag, id, class string
}

func parseSelectors(raw []string) []selector {
	var out []selector
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		var sel selector
		switch {
		case strings.HasPrefix(s, "#"):
			sel.id = s[1:]
		case strings.Contains(s, "."):
			sel.tag, sel.class, _ = strings.Cut(s, ".")
		default:
			sel.tag = strings.ToLower(s)
		}
		out = append(out, sel)
	}
	return out
}

func matchesAny(n *html.Node, sels []selector) bool {
	for _, sel := range sels {
		if sel.tag != "" && sel.tag != n.Data {
			continue
		}
		if sel.id != "" && attr(n, "id") != sel.id {
			continue
		}
		if sel.class != "" && !hasClass(n, sel.class) {
			continue
		}
		return true
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// isBlockElement checks if an HTML node represents a common block-level element.
func isBlockElement(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "address", "article", "aside", "blockquote", "br", "dd", "div", "dl", "dt", "fieldset", "figcaption", "figure",
		"h1", "h2", "h3", "h4", "h5", "h6", "header", "hr", "li", "main", "ol", "p", "pre", "section", "table", "tr", "ul":
		return true
	default:
		return false
	}
}
