package services

import (
	"net/url"
	"path"
	"strings"

	"harvest/internal/models"
)

// SocialDomains are the hosts routed to the social provider when no
// explicit source is given. Subdomains match too.
var SocialDomains = []string{
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"tiktok.com",
	"youtube.com",
	"reddit.com",
}

var spreadsheetExts = map[string]bool{".xlsx": true, ".xls": true, ".csv": true}

// DetermineSource returns explicit when it is set. Otherwise it infers the
// kind from target: a social host, then a .pdf or spreadsheet extension on
// the path, defaulting to web.
func DetermineSource(explicit models.SourceKind, target string) models.SourceKind {
	if explicit != "" {
		return explicit
	}

	host, p := splitTarget(target)
	if host != "" && isSocialHost(host) {
		return models.SourceSocial
	}
	ext := strings.ToLower(path.Ext(p))
	switch {
	case ext == ".pdf":
		return models.SourcePDF
	case spreadsheetExts[ext]:
		return models.SourceSpreadsheet
	}
	return models.SourceWeb
}

func splitTarget(target string) (host, p string) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", target
	}
	if u.Host == "" {
		return "", u.Path
	}
	return strings.ToLower(u.Hostname()), u.Path
}

func isSocialHost(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, d := range SocialDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
