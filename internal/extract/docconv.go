package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/corbeau/kbserve/internal/model"
)

// docconvExtractor handles PDF, DOCX and scanned-image input through the
// docconv conversion tools. PDFs come back with form-feed separators between
// pages, which gives us the per-page breakdown.
type docconvExtractor struct{}

func init() {
	Register(model.FileTypePDF, func() Extractor { return &docconvExtractor{} })
	Register(model.FileTypeDocx, func() Extractor { return &docconvExtractor{} })
	Register(model.FileTypeImage, func() Extractor { return &docconvExtractor{} })
}

func (e *docconvExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return nil, fmt.Errorf("docconv: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := res.Body
	var pages []string
	if strings.Contains(raw, "\f") {
		for _, p := range strings.Split(raw, "\f") {
			pages = append(pages, normalizeText(p))
		}
	}

	text := normalizeText(strings.ReplaceAll(raw, "\f", "\n\n"))
	if text == "" {
		return nil, ErrEmptyDocument
	}

	title := ""
	if res.Meta != nil {
		title = strings.TrimSpace(res.Meta["Title"])
	}
	return &Result{Text: text, Pages: pages, Title: title}, nil
}
