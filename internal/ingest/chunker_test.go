package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	fn func(prompt string) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.fn(prompt)
}

func makeParagraphs(count, runesEach int) string {
	paras := make([]string, 0, count)
	for i := 0; i < count; i++ {
		prefix := fmt.Sprintf("p%03d ", i)
		paras = append(paras, prefix+strings.Repeat("x", runesEach-len(prefix)))
	}
	return strings.Join(paras, "\n\n")
}

func TestApproxTokens(t *testing.T) {
	require.Equal(t, 0, ApproxTokens(""))
	require.Equal(t, 1, ApproxTokens("abcd"))
	require.Equal(t, 2, ApproxTokens("abcde"))
	require.Equal(t, 25, ApproxTokens(strings.Repeat("a", 100)))
}

func TestChunkerSingleChunk(t *testing.T) {
	c := NewChunker(nil, ChunkOptions{})
	chunks, err := c.Chunk(context.Background(), "first paragraph\n\nsecond paragraph", "Notes", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, "first paragraph\n\nsecond paragraph", chunks[0].Content)
	require.Equal(t, chunks[0].Content, chunks[0].ContextualContent)
	require.Equal(t, 1, chunks[0].Metadata.TotalChunks)
	require.Equal(t, 0, chunks[0].Metadata.Page)
	require.Equal(t, "Notes", chunks[0].Metadata.Title)
	require.Equal(t, ApproxTokens(chunks[0].Content), chunks[0].TokenCount)
}

func TestChunkerEmptyText(t *testing.T) {
	c := NewChunker(nil, ChunkOptions{})
	for _, text := range []string{"", "   \n\n  \t"} {
		chunks, err := c.Chunk(context.Background(), text, "", nil)
		require.NoError(t, err)
		require.Empty(t, chunks)
	}
}

func TestChunkerDenseIndicesAndOverlap(t *testing.T) {
	// budget 200 chars, overlap 40 chars
	c := NewChunker(nil, ChunkOptions{ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 5})
	text := makeParagraphs(30, 80)
	chunks, err := c.Chunk(context.Background(), text, "", nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)

	for i, chunk := range chunks {
		require.Equal(t, i, chunk.ChunkIndex)
		require.Equal(t, len(chunks), chunk.Metadata.TotalChunks)
		require.NotEmpty(t, chunk.Content)
	}
	// each chunk starts with the trailing window of its predecessor
	for i := 1; i < len(chunks); i++ {
		tail := overlapTail(chunks[i-1].Content, 10*charsPerToken)
		require.True(t, strings.HasPrefix(chunks[i].Content, tail),
			"chunk %d does not start with overlap of chunk %d", i, i-1)
	}
}

func TestChunkerMergesSmallTrailingChunk(t *testing.T) {
	// budget 200 chars, no overlap, min 40 chars
	c := NewChunker(nil, ChunkOptions{ChunkSize: 50, ChunkOverlap: -1, MinChunkSize: 10})
	paras := []string{
		strings.Repeat("a", 90),
		strings.Repeat("b", 90),
		strings.Repeat("c", 190),
		strings.Repeat("d", 20),
	}
	chunks, err := c.Chunk(context.Background(), strings.Join(paras, "\n\n"), "", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.True(t, strings.HasSuffix(chunks[1].Content, paras[3]))
	require.Contains(t, chunks[1].Content, paras[2])
}

func TestChunkerLargeDocument(t *testing.T) {
	c := NewChunker(nil, ChunkOptions{}) // defaults: 800/400/100 tokens
	text := makeParagraphs(100, 100)     // ~10k chars
	chunks, err := c.Chunk(context.Background(), text, "", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 4)
	for i, chunk := range chunks {
		require.Equal(t, i, chunk.ChunkIndex)
		require.Equal(t, len(chunks), chunk.Metadata.TotalChunks)
	}
}

func TestChunkerPageAttribution(t *testing.T) {
	pages := []string{strings.Repeat("a", 100), strings.Repeat("b", 100)}
	text := strings.Join(pages, "\n\n")
	// budget 120 chars so each page lands in its own chunk
	c := NewChunker(nil, ChunkOptions{ChunkSize: 30, ChunkOverlap: -1, MinChunkSize: 1})
	chunks, err := c.Chunk(context.Background(), text, "", pages)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, 1, chunks[0].Metadata.Page)
	require.Equal(t, 2, chunks[1].Metadata.Page)
}

func TestChunkerRespectsSizeBound(t *testing.T) {
	text := makeParagraphs(40, 70)
	c := NewChunker(nil, ChunkOptions{ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 10})
	chunks, err := c.Chunk(context.Background(), text, "Doc", nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)
	// every chunk except possibly the last stays within the token budget
	// (only a single oversized paragraph can break it)
	for _, ch := range chunks[:len(chunks)-1] {
		require.LessOrEqual(t, ApproxTokens(ch.Content), 50, "chunk %d", ch.ChunkIndex)
	}
}

func TestChunkerContextFallbackOnGeneratorError(t *testing.T) {
	gen := &fakeGenerator{fn: func(string) (string, error) {
		return "", errors.New("provider down")
	}}
	c := NewChunker(gen, ChunkOptions{})
	chunks, err := c.Chunk(context.Background(), "some content here", "Guide", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "Chunk 1 of 1 from Guide.", chunks[0].Metadata.Context)
	require.Equal(t, "Chunk 1 of 1 from Guide.\n\nsome content here", chunks[0].ContextualContent)
}

func TestChunkerContextDiscardsOutputOnGeneratorError(t *testing.T) {
	gen := &fakeGenerator{fn: func(string) (string, error) {
		return "half-written summary", errors.New("stream cut mid-response")
	}}
	c := NewChunker(gen, ChunkOptions{})
	chunks, err := c.Chunk(context.Background(), "some content here", "Guide", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "Chunk 1 of 1 from Guide.", chunks[0].Metadata.Context)
	require.NotContains(t, chunks[0].ContextualContent, "half-written")
}

func TestChunkerContextGenerated(t *testing.T) {
	gen := &fakeGenerator{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "<chunk>") {
			return "This section covers installation.", nil
		}
		return "A setup guide.", nil
	}}
	c := NewChunker(gen, ChunkOptions{})
	chunks, err := c.Chunk(context.Background(), "install the binary", "Guide", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "This section covers installation.", chunks[0].Metadata.Context)
	require.Equal(t, "This section covers installation.\n\ninstall the binary", chunks[0].ContextualContent)
	require.Equal(t, "install the binary", chunks[0].Content)
}
