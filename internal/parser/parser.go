// Package parser converts raw document payloads into normalized plain text
// plus structural metadata, ready for chunking and embedding.
package parser

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedFormat is returned for formats the parser does not recognize.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ErrMalformedInput is returned when a payload cannot be decoded as the
// declared format. An empty payload is always malformed.
var ErrMalformedInput = errors.New("malformed input")

// Format is the declared format of an incoming document.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Metadata describes the structure of a parsed document.
type Metadata struct {
	SourceFormat Format
	ParsedAt     time.Time
	ByteSize     int
	// PageCount is set only for page-oriented formats (PDF).
	PageCount int
	// Extracted holds allow-listed document info fields (title, author, ...).
	Extracted map[string]string
}

// ParsedDocument is the normalized result of parsing one document.
// It is owned exclusively by the caller and never retained by the parser.
type ParsedDocument struct {
	Content  string
	Metadata Metadata
}

// document is the per-format extraction capability. Each supported format
// provides one implementation; Parse dispatches on the declared format.
type document interface {
	extract(data []byte) (text string, meta Metadata, err error)
}

// Parse decodes data as the declared format and returns normalized text.
// Normalization is shared across formats so chunk offsets are comparable.
func Parse(data []byte, format Format) (*ParsedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	var d document
	switch format {
	case FormatPDF:
		d = pdfDocument{}
	case FormatMarkdown:
		d = markdownDocument{}
	case FormatText:
		d = textDocument{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	text, meta, err := d.extract(data)
	if err != nil {
		return nil, err
	}

	meta.SourceFormat = format
	meta.ParsedAt = time.Now().UTC()
	meta.ByteSize = len(data)

	return &ParsedDocument{Content: Normalize(text), Metadata: meta}, nil
}

// textDocument passes plain text through untouched; normalization happens
// in Parse like for every other format.
type textDocument struct{}

func (textDocument) extract(data []byte) (string, Metadata, error) {
	return string(data), Metadata{}, nil
}
