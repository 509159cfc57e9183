package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"harvest/internal/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// WebOptions configures web page extraction.
type WebOptions struct {
	WaitForSelector string   `json:"wait_for_selector,omitempty"`
	WaitTimeout     int      `json:"wait_timeout,omitempty"` // milliseconds
	RemoveSelectors []string `json:"remove_selectors,omitempty"`
	ExtractLinks    bool     `json:"extract_links,omitempty"`
	Screenshot      bool     `json:"screenshot,omitempty"`
}

// PDFOptions configures PDF extraction.
type PDFOptions struct {
	ExtractTables *bool  `json:"extract_tables,omitempty"`
	ExtractImages bool   `json:"extract_images,omitempty"`
	PageRange     string `json:"page_range,omitempty"`
}

// SpreadsheetOptions configures spreadsheet extraction.
type SpreadsheetOptions struct {
	SheetNames    []string `json:"sheet_names,omitempty"`
	HeaderRow     int      `json:"header_row,omitempty"`
	SkipEmptyRows *bool    `json:"skip_empty_rows,omitempty"`
	MaxRows       int      `json:"max_rows,omitempty"`
}

// SocialOptions selects the scraping actor and its input.
type SocialOptions struct {
	Actor      string         `json:"actor,omitempty"`
	ActorInput map[string]any `json:"actor_input,omitempty"`
}

const defaultWaitTimeoutMs = 30000

var optionSchemas = map[models.SourceKind]string{
	models.SourceWeb: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"wait_for_selector": {"type": "string"},
			"wait_timeout": {"type": "integer", "minimum": 1000, "maximum": 120000},
			"remove_selectors": {"type": "array", "items": {"type": "string"}},
			"extract_links": {"type": "boolean"},
			"screenshot": {"type": "boolean"}
		}
	}`,
	models.SourcePDF: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"extract_tables": {"type": "boolean"},
			"extract_images": {"type": "boolean"},
			"page_range": {"type": "string", "pattern": "^[1-9][0-9]*(-[1-9][0-9]*)?$"}
		}
	}`,
	models.SourceSpreadsheet: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"sheet_names": {"type": "array", "items": {"type": "string"}},
			"header_row": {"type": "integer", "minimum": 0},
			"skip_empty_rows": {"type": "boolean"},
			"max_rows": {"type": "integer", "minimum": 1}
		}
	}`,
	models.SourceSocial: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"actor": {"type": "string", "minLength": 1},
			"actor_input": {"type": "object"}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[models.SourceKind]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() (map[models.SourceKind]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		out := make(map[models.SourceKind]*jsonschema.Schema, len(optionSchemas))
		for kind, raw := range optionSchemas {
			url := fmt.Sprintf("%s-options.json", kind)
			if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add %s schema: %w", kind, err)
				return
			}
			schema, err := compiler.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", kind, err)
				return
			}
			out[kind] = schema
		}
		compiled = out
	})
	return compiled, compileErr
}

// ValidateOptions checks raw options against the schema for kind. Empty or
// null options are always valid.
func ValidateOptions(kind models.SourceKind, raw json.RawMessage) error {
	if isEmptyJSON(raw) {
		return nil
	}
	schemas, err := compileSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[kind]
	if !ok {
		return models.NewValidationError("config", "no options are accepted for source %q", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return models.NewValidationError("config", "invalid JSON: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return models.NewValidationError("config", "%s", schemaMessage(err))
	}
	return nil
}

func schemaMessage(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		if leaf.InstanceLocation != "" {
			return leaf.InstanceLocation + ": " + leaf.Message
		}
		return leaf.Message
	}
	return err.Error()
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeOptions(raw json.RawMessage, dst any) error {
	if isEmptyJSON(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return models.NewFatalError("invalid extraction options", err)
	}
	return nil
}

// ParseWebOptions decodes web options and applies defaults.
func ParseWebOptions(raw json.RawMessage) (WebOptions, error) {
	var o WebOptions
	if err := decodeOptions(raw, &o); err != nil {
		return o, err
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = defaultWaitTimeoutMs
	}
	return o, nil
}

// ParsePDFOptions decodes PDF options; tables are extracted unless disabled.
func ParsePDFOptions(raw json.RawMessage) (PDFOptions, error) {
	var o PDFOptions
	if err := decodeOptions(raw, &o); err != nil {
		return o, err
	}
	if o.ExtractTables == nil {
		t := true
		o.ExtractTables = &t
	}
	return o, nil
}

// Pages returns the first and last page of PageRange, 0 meaning unbounded.
func (o PDFOptions) Pages() (first, last int, err error) {
	if o.PageRange == "" {
		return 0, 0, nil
	}
	lo, hi, found := strings.Cut(o.PageRange, "-")
	if first, err = strconv.Atoi(lo); err != nil || first < 1 {
		return 0, 0, models.NewFatalError(fmt.Sprintf("invalid page_range %q", o.PageRange), nil)
	}
	if !found {
		return first, first, nil
	}
	if last, err = strconv.Atoi(hi); err != nil || last < first {
		return 0, 0, models.NewFatalError(fmt.Sprintf("invalid page_range %q", o.PageRange), nil)
	}
	return first, last, nil
}

// ParseSpreadsheetOptions decodes spreadsheet options; empty rows are
// skipped unless disabled.
func ParseSpreadsheetOptions(raw json.RawMessage) (SpreadsheetOptions, error) {
	var o SpreadsheetOptions
	if err := decodeOptions(raw, &o); err != nil {
		return o, err
	}
	if o.SkipEmptyRows == nil {
		t := true
		o.SkipEmptyRows = &t
	}
	return o, nil
}

func ParseSocialOptions(raw json.RawMessage) (SocialOptions, error) {
	var o SocialOptions
	err := decodeOptions(raw, &o)
	return o, err
}
