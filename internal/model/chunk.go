package model

// ChunkMetadata is stored as JSONB alongside each chunk. Context carries the
// generated contextual summary (or its deterministic fallback) when
// contextual ingestion is enabled.
type ChunkMetadata struct {
	TotalChunks int    `json:"total_chunks"`
	Page        int    `json:"page,omitempty"`
	Title       string `json:"title,omitempty"`
	Context     string `json:"context,omitempty"`
}

// Chunk is one bounded, possibly overlapping segment of a document.
// ChunkIndex values for a document form a contiguous 0..N-1 range.
// Chunks are immutable once stored; they are only ever deleted wholesale.
type Chunk struct {
	ID                string        `json:"id"`
	DocumentID        string        `json:"document_id"`
	ChunkIndex        int           `json:"chunk_index"`
	Content           string        `json:"content"`
	ContextualContent string        `json:"contextual_content"`
	Embedding         []float32     `json:"-"`
	TokenCount        int           `json:"token_count"`
	Metadata          ChunkMetadata `json:"metadata"`
	Ctime             int64         `json:"ctime"`
}
