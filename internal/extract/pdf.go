package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"harvest/internal/models"
	"harvest/internal/util"

	log "github.com/sirupsen/logrus"
)

// Runner lets tests stub the poppler command line tools.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	fields := log.Fields{
		"cmd":         name,
		"args":        strings.Join(args, " "),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["stderr"] = truncate(errb.String(), 8<<10)
		log.WithError(err).WithFields(fields).Error("exec failed")
	} else {
		fields["stdout_bytes"] = out.Len()
		log.WithFields(fields).Debug("exec ok")
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// PDFConfig names the poppler binaries.
type PDFConfig struct {
	Pdftotext string
	Pdfinfo   string
	Timeout   time.Duration
}

// PDFProvider extracts text and simple tables from PDF files with
// pdftotext. Image extraction is not supported.
type PDFProvider struct {
	cfg    PDFConfig
	runner Runner
	input  fileInput
}

var _ Provider = (*PDFProvider)(nil)

// NewPDFProvider checks that pdftotext is on PATH. A nil runner runs the
// real binaries; client downloads remote files.
func NewPDFProvider(cfg PDFConfig, runner Runner, client *http.Client) (*PDFProvider, error) {
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if runner == nil {
		if _, err := exec.LookPath(cfg.Pdftotext); err != nil {
			return nil, fmt.Errorf("pdftotext not available: %w", err)
		}
		runner = execRunner{}
	}
	return &PDFProvider{cfg: cfg, runner: runner, input: fileInput{client: client}}, nil
}

func (p *PDFProvider) Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error) {
	opts, err := ParsePDFOptions(req.Options)
	if err != nil {
		return nil, err
	}
	first, last, err := opts.Pages()
	if err != nil {
		return nil, err
	}

	path, name, cleanup, err := p.input.localFile(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if ext := fileExt(name, path); ext != ".pdf" {
		return nil, newFatal(fmt.Sprintf("invalid file type %q: expected .pdf", ext), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	args := []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first), "-l", strconv.Itoa(last))
	}
	args = append(args, path, "-")
	out, errb, err := p.runner.Run(ctx, p.cfg.Pdftotext, args...)
	if err != nil {
		return nil, classifyExecError(ctx, "pdftotext", err, errb)
	}

	startPage := first
	if startPage == 0 {
		startPage = 1
	}
	pages := strings.Split(strings.TrimSuffix(util.CleanText(out, path), "\f"), "\f")

	var parts []string
	var tables []models.Table
	for i, page := range pages {
		pageNum := startPage + i
		if strings.TrimSpace(page) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, strings.TrimRight(page, "\n ")))
		}
		if *opts.ExtractTables {
			tables = append(tables, detectTables(page, pageNum)...)
		}
	}
	content := strings.Join(parts, "\n\n")

	if opts.ExtractImages {
		log.WithField("file", name).Debug("image extraction is not supported for PDF; skipping")
	}

	info := p.info(ctx, path)
	title := info["Title"]
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	custom := map[string]any{}
	for _, k := range []string{"Creator", "Producer", "CreationDate"} {
		if v := info[k]; v != "" {
			custom[strings.ToLower(k)] = v
		}
	}
	if len(custom) == 0 {
		custom = nil
	}

	sourceURL := req.Target
	if sourceURL == "" {
		sourceURL = name
	}
	return &models.ExtractedDocument{
		Source:      models.SourcePDF,
		SourceURL:   sourceURL,
		Content:     content,
		ContentType: models.ClassifyContent(strings.TrimSpace(content) != "", len(tables), 0),
		Metadata: models.Metadata{
			Title:     title,
			Author:    info["Author"],
			PageCount: len(pages),
			WordCount: len(strings.Fields(content)),
			Custom:    custom,
		},
		Tables:      tables,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// info runs pdfinfo; failures only cost the metadata.
func (p *PDFProvider) info(ctx context.Context, path string) map[string]string {
	out, _, err := p.runner.Run(ctx, p.cfg.Pdfinfo, "-enc", "UTF-8", path)
	if err != nil {
		return map[string]string{}
	}
	info := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return info
}

func (p *PDFProvider) Close() error { return nil }

func classifyExecError(ctx context.Context, tool string, err error, stderr []byte) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newTransient(tool+" timed out", ctx.Err())
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return newFatal(tool+" cancelled", ctx.Err())
	}
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return newFatal(tool+" failed", err)
	}
	return newFatal(fmt.Sprintf("%s failed: %s", tool, truncate(msg, 512)), err)
}

var columnGap = regexp.MustCompile(`\S(?: ?\S)*`)

// detectTables finds runs of layout lines that split into the same number
// of columns (two or more) on gaps of at least two spaces. The first line
// of a run becomes the header; a run needs at least one data row.
func detectTables(page string, pageNum int) []models.Table {
	var tables []models.Table
	var run [][]string
	flush := func() {
		if len(run) >= 2 {
			tables = append(tables, models.Table{
				Name:       fmt.Sprintf("Table %d (Page %d)", len(tables)+1, pageNum),
				Headers:    run[0],
				Rows:       run[1:],
				PageNumber: pageNum,
			})
		}
		run = nil
	}
	for _, line := range strings.Split(page, "\n") {
		cells := columnGap.FindAllString(line, -1)
		if len(cells) < 2 || (len(run) > 0 && len(cells) != len(run[0])) {
			flush()
			if len(cells) >= 2 {
				run = append(run, cells)
			}
			continue
		}
		run = append(run, cells)
	}
	flush()
	return tables
}
