package model

// SearchHit is one row returned by a single retrieval signal (semantic or
// lexical). Score carries the signal's own measure: cosine similarity for
// semantic hits, ts_rank for lexical hits.
type SearchHit struct {
	ChunkID           string        `json:"chunk_id"`
	DocumentID        string        `json:"document_id"`
	ChunkIndex        int           `json:"chunk_index"`
	Content           string        `json:"content"`
	ContextualContent string        `json:"contextual_content"`
	Metadata          ChunkMetadata `json:"metadata"`
	Score             float64       `json:"score"`
}

// RetrievalResult is a fused (and possibly reranked) hit. SemanticRank and
// LexicalRank are 1-based positions in the underlying rank lists; zero means
// the chunk was absent from that list.
type RetrievalResult struct {
	ChunkID           string        `json:"chunk_id"`
	DocumentID        string        `json:"document_id"`
	Content           string        `json:"content"`
	ContextualContent string        `json:"contextual_content"`
	Metadata          ChunkMetadata `json:"metadata"`
	Score             float64       `json:"score"`
	SemanticRank      int           `json:"semantic_rank,omitempty"`
	LexicalRank       int           `json:"lexical_rank,omitempty"`
}

// DocumentInfo is the provenance projection of a document.
type DocumentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// QueryLogEntry is write-only analytics; it is never read back by the
// retrieval path.
type QueryLogEntry struct {
	ID        string    `json:"id"`
	QueryText string    `json:"query_text"`
	ChunkIDs  []string  `json:"chunk_ids"`
	Scores    []float64 `json:"scores"`
	ModelUsed string    `json:"model_used"`
	Response  string    `json:"response_text"`
	LatencyMS int64     `json:"latency_ms"`
	Ctime     int64     `json:"ctime"`
}
