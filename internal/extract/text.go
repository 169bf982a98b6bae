package extract

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/corbeau/kbserve/internal/model"
)

// textExtractor handles plain text uploads. Markdown input is flattened to
// plain paragraphs so that markup does not leak into chunk content or
// embeddings.
type textExtractor struct{}

func init() {
	Register(model.FileTypeTxt, func() Extractor { return &textExtractor{} })
}

func (e *textExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	_ = ctx
	text := normalizeText(string(data))
	if text == "" {
		return nil, ErrEmptyDocument
	}
	if isMarkdownMime(mimeType) {
		flattened, title := flattenMarkdown(data)
		if flattened != "" {
			return &Result{Text: flattened, Title: title}, nil
		}
	}
	return &Result{Text: text}, nil
}

func isMarkdownMime(mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	return strings.Contains(mimeType, "markdown") || strings.Contains(mimeType, "text/x-md")
}

// flattenMarkdown walks the goldmark AST and joins block-level text into
// blank-line separated paragraphs. The first level-1 heading becomes the
// document title.
func flattenMarkdown(source []byte) (string, string) {
	md := goldmark.New()
	reader := gmtext.NewReader(source)
	doc := md.Parser().Parse(reader)

	var blocks []string
	title := ""
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		txt := extractText(node, source)
		if txt == "" {
			continue
		}
		if h, ok := node.(*ast.Heading); ok && h.Level == 1 && title == "" {
			title = txt
		}
		blocks = append(blocks, txt)
	}
	return strings.Join(blocks, "\n\n"), title
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
			sb.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}
