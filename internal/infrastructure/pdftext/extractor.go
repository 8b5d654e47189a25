// Package pdftext extracts page-indexed plain text from PDF documents.
package pdftext

import (
	"bytes"
	"context"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Extractor implements ingestion.TextExtractor.
type Extractor struct {
	logger logging.Logger
}

// NewExtractor returns an Extractor.
func NewExtractor(logger logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Extractor{logger: logger}
}

// Extract returns one Page per PDF page, numbered from 1. Pages whose text
// cannot be decoded are kept with empty text so numbering stays aligned.
func (e *Extractor) Extract(ctx context.Context, data []byte) (pages []trademark.Page, err error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeTextExtraction, "empty document")
	}
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = apperrors.Newf(apperrors.ErrCodeTextExtraction, "malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTextExtraction, "open pdf")
	}

	fonts := make(map[string]*pdf.Font)
	n := r.NumPage()
	pages = make([]trademark.Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, trademark.Page{Number: i})
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			e.logger.Warn("page text not decodable", logging.Int("page", i), logging.Err(err))
		}
		pages = append(pages, trademark.Page{Number: i, Text: cleanPage(text)})
	}
	if n == 0 {
		return nil, apperrors.New(apperrors.ErrCodeTextExtraction, "pdf has no pages")
	}
	return pages, nil
}

func cleanPage(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// PlainText implements ingestion.TextExtractor for UTF-8 text with pages
// separated by form feeds. It serves local runs and fixtures.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, data []byte) ([]trademark.Page, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeTextExtraction, "empty document")
	}
	parts := strings.Split(string(data), "\f")
	pages := make([]trademark.Page, 0, len(parts))
	for i, p := range parts {
		pages = append(pages, trademark.Page{Number: i + 1, Text: cleanPage(p)})
	}
	return pages, nil
}
