package models

import (
	"math"
	"time"
)

// ContentType classifies what an ExtractedDocument mostly contains.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentTable ContentType = "table"
	ContentImage ContentType = "image"
	ContentMixed ContentType = "mixed"
)

// ExtractedDocument is the immutable output of an extraction provider.
type ExtractedDocument struct {
	Source      SourceKind  `json:"source"`
	SourceURL   string      `json:"source_url"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Metadata    Metadata    `json:"metadata"`
	Tables      []Table     `json:"tables,omitempty"`
	Images      []Image     `json:"images,omitempty"`
	RawHTML     string      `json:"raw_html,omitempty"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

type Metadata struct {
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	Description string         `json:"description,omitempty"`
	Language    string         `json:"language,omitempty"`
	PageCount   int            `json:"page_count,omitempty"`
	WordCount   int            `json:"word_count,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// Table is one tabular extract: a header row plus data rows.
type Table struct {
	Name       string     `json:"name,omitempty"`
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	PageNumber int        `json:"page_number,omitempty"`
}

// Image is an embedded image. Data is serialized as base64.
type Image struct {
	Filename   string `json:"filename,omitempty"`
	MimeType   string `json:"mime_type"`
	Data       []byte `json:"base64_data"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

// ClassifyContent picks a ContentType from what a document carries.
func ClassifyContent(hasText bool, tables, images int) ContentType {
	kinds := 0
	if hasText {
		kinds++
	}
	if tables > 0 {
		kinds++
	}
	if images > 0 {
		kinds++
	}
	switch {
	case kinds > 1:
		return ContentMixed
	case tables > 0:
		return ContentTable
	case images > 0:
		return ContentImage
	default:
		return ContentText
	}
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
