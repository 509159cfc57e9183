package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// fileInput resolves the bytes a document provider reads: inline upload,
// remote URL or local path.
type fileInput struct {
	client *http.Client
}

// localFile returns a path on disk holding the request's document and a
// cleanup func that removes any temporary copy. name is the best known file
// name, used for extension sniffing.
func (f fileInput) localFile(ctx context.Context, req Request) (localPath, name string, cleanup func(), err error) {
	noop := func() {}
	switch {
	case len(req.FileContent) > 0:
		name = SanitizeFilename(req.FileName)
		if name == "" {
			name = SanitizeFilename(filenameFromURL(req.Target))
		}
		p, err := writeTemp(name, req.FileContent)
		if err != nil {
			return "", "", noop, err
		}
		return p, name, func() { os.Remove(p) }, nil

	case isHTTPURL(req.Target):
		name = SanitizeFilename(filenameFromURL(req.Target))
		p, err := f.download(ctx, req.Target, name)
		if err != nil {
			return "", "", noop, err
		}
		return p, name, func() { os.Remove(p) }, nil

	case req.Target != "":
		st, err := os.Stat(req.Target)
		if errors.Is(err, os.ErrNotExist) {
			return "", "", noop, newFatal("file not found: "+req.Target, nil)
		}
		if err != nil {
			return "", "", noop, newFatal("stat "+req.Target, err)
		}
		if st.IsDir() {
			return "", "", noop, newFatal(req.Target+" is a directory", nil)
		}
		return req.Target, filepath.Base(req.Target), noop, nil
	}
	return "", "", noop, newFatal("either a URL or file content is required", nil)
}

func (f fileInput) download(ctx context.Context, target, name string) (string, error) {
	client := f.client
	if client == nil {
		client = http.DefaultClient
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", newFatal("build request", err)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError("download "+target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyHTTPStatus("download "+target, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "harvest-*-"+name)
	if err != nil {
		return "", newFatal("create temp file", err)
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxResponseBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", classifyTransportError("download "+target, err)
	}
	if n > maxResponseBytes {
		os.Remove(tmp.Name())
		return "", newFatal(fmt.Sprintf("download %s exceeds %d bytes", target, maxResponseBytes), nil)
	}
	return tmp.Name(), nil
}

func writeTemp(name string, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "harvest-*-"+name)
	if err != nil {
		return "", newFatal("create temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", newFatal("write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", newFatal("write temp file", err)
	}
	return tmp.Name(), nil
}

func filenameFromURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeFilename lowercases a file name and replaces anything outside
// [a-z0-9] in the stem with dashes, keeping the extension.
// "Reporte Final: Ventas & Marketing 2026.pdf" becomes
// "reporte-final-ventas-marketing-2026.pdf".
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 {
		ext = ""
	}
	stem := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	stem = strings.Trim(unsafeFilenameChars.ReplaceAllString(stem, "-"), "-")
	if stem == "" {
		stem = "unnamed-file"
	}
	if len(stem) > 200 {
		stem = stem[:200]
	}
	return stem + ext
}

// fileExt returns the lowercased extension of name or, failing that, of
// the URL/path target.
func fileExt(name, target string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		return ext
	}
	return strings.ToLower(filepath.Ext(filenameFromURL(target)))
}
