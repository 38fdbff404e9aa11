package parser

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// pdfInfoKeys is the allow-list of document info fields carried into
// Metadata.Extracted. Anything else in the Info dictionary is dropped.
var pdfInfoKeys = []string{"Title", "Author", "Subject", "Creator", "Producer"}

// pdfDocument extracts text and structural metadata from PDF payloads.
type pdfDocument struct{}

func (pdfDocument) extract(data []byte) (text string, meta Metadata, err error) {
	// The pdf package panics on some corrupt cross-reference tables;
	// convert that into a malformed-input error instead of crashing
	// a whole ingestion batch.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf: %v", ErrMalformedInput, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", Metadata{}, fmt.Errorf("%w: pdf: %v", ErrMalformedInput, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", Metadata{}, fmt.Errorf("%w: pdf text extraction: %v", ErrMalformedInput, err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", Metadata{}, fmt.Errorf("%w: pdf text extraction: %v", ErrMalformedInput, err)
	}

	meta = Metadata{
		PageCount: reader.NumPage(),
		Extracted: extractInfo(reader),
	}
	return string(out), meta, nil
}

// extractInfo copies allow-listed entries from the PDF Info dictionary.
// Returns nil when the document carries no usable info.
func extractInfo(reader *pdf.Reader) map[string]string {
	info := reader.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return nil
	}

	var extracted map[string]string
	for _, key := range pdfInfoKeys {
		v := info.Key(key)
		if v.Kind() != pdf.String {
			continue
		}
		s := v.RawString()
		if s == "" {
			continue
		}
		if extracted == nil {
			extracted = make(map[string]string, len(pdfInfoKeys))
		}
		extracted[key] = s
	}
	return extracted
}
