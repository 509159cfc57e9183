package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harvest/internal/models"
	"harvest/internal/util"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// SpreadsheetProvider reads .xlsx/.xlsm workbooks and .csv files into
// tables, one per sheet.
type SpreadsheetProvider struct {
	input fileInput
}

var _ Provider = (*SpreadsheetProvider)(nil)

func NewSpreadsheetProvider(client *http.Client) *SpreadsheetProvider {
	return &SpreadsheetProvider{input: fileInput{client: client}}
}

type sheet struct {
	name string
	rows [][]string
}

func (p *SpreadsheetProvider) Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error) {
	opts, err := ParseSpreadsheetOptions(req.Options)
	if err != nil {
		return nil, err
	}
	path, name, cleanup, err := p.input.localFile(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var sheets []sheet
	props := map[string]any{}
	switch ext := fileExt(name, path); ext {
	case ".xlsx", ".xlsm":
		sheets, props, err = readWorkbook(path, opts.SheetNames)
	case ".csv":
		sheets, err = readCSV(path, strings.TrimSuffix(filepath.Base(name), ext))
	case ".xls":
		err = newFatal("legacy .xls workbooks are not supported; convert to .xlsx", nil)
	default:
		err = newFatal(fmt.Sprintf("invalid file type %q: expected .xlsx, .xlsm or .csv", ext), nil)
	}
	if err != nil {
		return nil, err
	}

	var tables []models.Table
	var parts []string
	for _, s := range sheets {
		t, ok := buildTable(s, opts)
		if !ok {
			continue
		}
		tables = append(tables, t)
		parts = append(parts, fmt.Sprintf("Sheet: %s\nColumns: %s\nRows: %d", t.Name, strings.Join(t.Headers, ", "), len(t.Rows)))
	}
	content := strings.Join(parts, "\n\n")

	sheetNames := make([]string, 0, len(tables))
	for _, t := range tables {
		sheetNames = append(sheetNames, t.Name)
	}
	custom := map[string]any{"sheet_count": len(tables), "sheets": sheetNames}
	for k, v := range props {
		custom[k] = v
	}
	title, _ := props["title"].(string)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	author, _ := props["creator"].(string)

	sourceURL := req.Target
	if sourceURL == "" {
		sourceURL = name
	}
	return &models.ExtractedDocument{
		Source:      models.SourceSpreadsheet,
		SourceURL:   sourceURL,
		Content:     content,
		ContentType: models.ContentTable,
		Metadata: models.Metadata{
			Title:     title,
			Author:    author,
			WordCount: len(strings.Fields(content)),
			Custom:    custom,
		},
		Tables:      tables,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

func (p *SpreadsheetProvider) Close() error { return nil }

func readWorkbook(path string, only []string) ([]sheet, map[string]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, newFatal("open workbook", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Warn("failed to close workbook")
		}
	}()

	available := f.GetSheetList()
	names := available
	if len(only) > 0 {
		present := make(map[string]bool, len(available))
		for _, n := range available {
			present[n] = true
		}
		names = nil
		for _, n := range only {
			if !present[n] {
				log.WithField("sheet", n).Warn("sheet not found")
				continue
			}
			names = append(names, n)
		}
	}

	sheets := make([]sheet, 0, len(names))
	for _, n := range names {
		rows, err := f.GetRows(n)
		if err != nil {
			return nil, nil, newFatal("read sheet "+n, err)
		}
		sheets = append(sheets, sheet{name: n, rows: rows})
	}
	return sheets, workbookProps(f), nil
}

func workbookProps(f *excelize.File) map[string]any {
	props, err := f.GetDocProps()
	if err != nil || props == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("creator", props.Creator)
	set("title", props.Title)
	set("subject", props.Subject)
	set("description", props.Description)
	set("created", props.Created)
	set("modified", props.Modified)
	set("last_modified_by", props.LastModifiedBy)
	set("keywords", props.Keywords)
	return out
}

func readCSV(path, name string) ([]sheet, error) {
	binary, err := util.IsLikelyBinary(path)
	if err != nil {
		return nil, newFatal("open csv", err)
	}
	if binary {
		return nil, newFatal("file is not a text CSV: "+name, nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newFatal("open csv", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newFatal("parse csv", err)
		}
		rows = append(rows, rec)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = string(util.TrimBOM([]byte(rows[0][0])))
	}
	return []sheet{{name: name, rows: rows}}, nil
}

// buildTable applies header_row, skip_empty_rows and max_rows. Sheets with
// no header are dropped.
func buildTable(s sheet, opts SpreadsheetOptions) (models.Table, bool) {
	if opts.HeaderRow >= len(s.rows) {
		return models.Table{}, false
	}
	headers := trimCells(s.rows[opts.HeaderRow])
	if len(headers) == 0 {
		return models.Table{}, false
	}

	rows := make([][]string, 0, len(s.rows)-opts.HeaderRow-1)
	for _, raw := range s.rows[opts.HeaderRow+1:] {
		if opts.MaxRows > 0 && len(rows) >= opts.MaxRows {
			break
		}
		if *opts.SkipEmptyRows && isBlankRow(raw) {
			continue
		}
		row := make([]string, len(headers))
		copy(row, trimCells(raw))
		rows = append(rows, row)
	}
	for i, h := range headers {
		if h == "" {
			headers[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	return models.Table{Name: s.name, Headers: headers, Rows: rows}, true
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
