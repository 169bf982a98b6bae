package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/ai"
	"github.com/corbeau/kbserve/internal/model"
)

// maxSummaryInput caps how much document text is sent to the generator when
// building the whole-document summary.
const maxSummaryInput = 8000

type ChunkOptions struct {
	ChunkSize    int // token budget per chunk
	ChunkOverlap int // token budget carried over between consecutive chunks
	MinChunkSize int // token budget under which a trailing chunk is merged
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 800
	}
	// zero means "use the default"; negative disables overlap entirely
	if o.ChunkOverlap == 0 {
		o.ChunkOverlap = 400
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.MinChunkSize <= 0 {
		o.MinChunkSize = 100
	}
	return o
}

// Chunker splits normalized text into overlapping, paragraph-aligned segments
// sized by an approximate token budget. With a generator configured it also
// prepends a short contextual summary to each segment; without one it is the
// plain splitting variant for large-volume ingestion.
type Chunker struct {
	gen  ai.IGenerator
	opts ChunkOptions
}

func NewChunker(gen ai.IGenerator, opts ChunkOptions) *Chunker {
	return &Chunker{gen: gen, opts: opts.withDefaults()}
}

type piece struct {
	content string
	start   int // byte offset into the source text, best effort after overlap seeding
}

var paragraphRe = regexp.MustCompile(`\n[ \t]*\n+`)

func splitParagraphs(text string) []piece {
	parts := paragraphRe.Split(text, -1)
	out := make([]piece, 0, len(parts))
	pos := 0
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		idx := strings.Index(text[pos:], p)
		if idx < 0 {
			idx = 0
		}
		rawStart := pos + idx
		lead := strings.Index(p, trimmed)
		if lead < 0 {
			lead = 0
		}
		out = append(out, piece{content: trimmed, start: rawStart + lead})
		pos = rawStart + len(p)
	}
	return out
}

// split accumulates paragraphs into budget-bounded pieces, seeding each new
// piece with the trailing overlap window of the one just closed.
func (c *Chunker) split(text string) []piece {
	budget := c.opts.ChunkSize * charsPerToken
	overlap := c.opts.ChunkOverlap * charsPerToken
	minChars := c.opts.MinChunkSize * charsPerToken

	paras := splitParagraphs(text)
	var pieces []piece
	cur := ""
	curStart := 0
	for _, p := range paras {
		if cur != "" && utf8.RuneCountInString(cur)+2+utf8.RuneCountInString(p.content) > budget {
			pieces = append(pieces, piece{content: cur, start: curStart})
			tail := overlapTail(cur, overlap)
			curStart += len(cur) - len(tail)
			cur = tail
		}
		if cur == "" {
			cur = p.content
			curStart = p.start
		} else {
			cur = cur + "\n\n" + p.content
		}
	}
	if cur != "" {
		if utf8.RuneCountInString(cur) >= minChars || len(pieces) == 0 {
			pieces = append(pieces, piece{content: cur, start: curStart})
		} else {
			// too small to stand alone: fold into the previous chunk
			last := &pieces[len(pieces)-1]
			last.content = last.content + "\n\n" + cur
		}
	}
	return pieces
}

// overlapTail returns the trailing n-rune window of s, trimmed.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(r[len(r)-n:]))
}

// pageForOffset maps a chunk start offset to a 1-based page number by
// accumulating page lengths. Returns 0 when no page breakdown exists.
func pageForOffset(pages []string, offset int) int {
	if len(pages) == 0 {
		return 0
	}
	cum := 0
	for i, p := range pages {
		cum += len(p) + 2
		if offset < cum {
			return i + 1
		}
	}
	return len(pages)
}

// Chunk produces the ordered chunk records for one document. Context
// generation failures are non-fatal: a failed chunk summary is replaced with
// a deterministic fallback rather than failing the pipeline.
func (c *Chunker) Chunk(ctx context.Context, text, title string, pages []string) ([]*model.Chunk, error) {
	logger := logutil.GetLogger(ctx)
	pieces := c.split(text)
	total := len(pieces)
	if total == 0 {
		return nil, nil
	}

	docSummary := ""
	if c.gen != nil {
		summary, err := c.gen.Generate(ctx, documentSummaryPrompt(title, text))
		if err != nil {
			logger.Warn("document summary failed, chunk contexts will degrade", zap.Error(err))
		} else {
			docSummary = strings.TrimSpace(summary)
		}
	}

	chunks := make([]*model.Chunk, 0, total)
	for i, p := range pieces {
		contextText := ""
		if c.gen != nil {
			generated, err := c.gen.Generate(ctx, chunkContextPrompt(docSummary, p.content))
			if err != nil {
				logger.Warn("chunk context failed, using fallback",
					zap.Int("chunk_index", i), zap.Error(err))
				generated = ""
			}
			contextText = strings.TrimSpace(generated)
			if contextText == "" {
				contextText = fallbackContext(i, total, title)
			}
		}
		contextual := p.content
		if contextText != "" {
			contextual = contextText + "\n\n" + p.content
		}
		chunks = append(chunks, &model.Chunk{
			ChunkIndex:        i,
			Content:           p.content,
			ContextualContent: contextual,
			TokenCount:        ApproxTokens(p.content),
			Metadata: model.ChunkMetadata{
				TotalChunks: total,
				Page:        pageForOffset(pages, p.start),
				Title:       title,
				Context:     contextText,
			},
		})
	}
	logger.Info("chunking completed", zap.Int("total_chunks", total))
	return chunks, nil
}

func documentSummaryPrompt(title, text string) string {
	r := []rune(text)
	if len(r) > maxSummaryInput {
		text = string(r[:maxSummaryInput])
	}
	header := ""
	if title != "" {
		header = fmt.Sprintf(" titled %q", title)
	}
	return fmt.Sprintf(`Summarize the following document%s in 2-3 sentences. Focus on its subject and structure.

DOCUMENT:
%s`, header, text)
}

func chunkContextPrompt(docSummary, chunk string) string {
	summarySection := ""
	if docSummary != "" {
		summarySection = fmt.Sprintf("Here is a summary of the whole document:\n%s\n\n", docSummary)
	}
	return fmt.Sprintf(`%sHere is a chunk from that document:
<chunk>
%s
</chunk>

Write 1-2 short sentences situating this chunk within the overall document, to improve search retrieval of the chunk. Answer with only those sentences.`, summarySection, chunk)
}

func fallbackContext(index, total int, title string) string {
	if title == "" {
		title = "the document"
	}
	return fmt.Sprintf("Chunk %d of %d from %s.", index+1, total, title)
}
