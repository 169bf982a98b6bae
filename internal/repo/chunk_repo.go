package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"

	"github.com/corbeau/kbserve/internal/model"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Insert appends one chunk row. A chunk is only ever written with its
// embedding already computed, so a stored chunk is always searchable.
func (r *ChunkRepo) Insert(ctx context.Context, chunk *model.Chunk) error {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO document_chunks
			(id, document_id, chunk_index, content, contextual_content, embedding, token_count, metadata, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		chunk.ID,
		chunk.DocumentID,
		chunk.ChunkIndex,
		chunk.Content,
		chunk.ContextualContent,
		pgvector.NewVector(chunk.Embedding),
		chunk.TokenCount,
		meta,
		chunk.Ctime,
	)
	return err
}

// DeleteByDocument removes all chunks of a document in one statement, so a
// reprocess never leaves a mixed old/new chunk set visible.
func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	const query = `DELETE FROM document_chunks WHERE document_id = $1`
	_, err := r.db.ExecContext(ctx, query, documentID)
	return err
}

// ListByDocument returns chunks ordered by chunk_index, which is stored as an
// attribute rather than relying on insertion order.
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]model.Chunk, error) {
	const query = `
		SELECT id, document_id, chunk_index, content, contextual_content, token_count, metadata, ctime
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var meta []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContextualContent, &c.TokenCount, &meta, &c.Ctime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SemanticSearch ranks chunks by cosine similarity to the query vector,
// dropping anything below threshold.
func (r *ChunkRepo) SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64) ([]model.SearchHit, error) {
	const query = `
		SELECT id, document_id, chunk_index, content, contextual_content, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM document_chunks
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	return r.queryHits(ctx, query, pgvector.NewVector(queryVec), threshold, limit)
}

// LexicalSearch ranks chunks by full-text relevance against the raw query.
func (r *ChunkRepo) LexicalSearch(ctx context.Context, queryText string, limit int) ([]model.SearchHit, error) {
	cleaned := sanitizeFTSQuery(queryText)
	if cleaned == "" {
		return []model.SearchHit{}, nil
	}
	const query = `
		SELECT id, document_id, chunk_index, content, contextual_content, metadata,
		       ts_rank_cd(to_tsvector('english', contextual_content), plainto_tsquery('english', $1)) AS score
		FROM document_chunks
		WHERE to_tsvector('english', contextual_content) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`
	return r.queryHits(ctx, query, cleaned, limit)
}

func (r *ChunkRepo) queryHits(ctx context.Context, query string, args ...interface{}) ([]model.SearchHit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]model.SearchHit, 0)
	for rows.Next() {
		var h model.SearchHit
		var meta []byte
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.ChunkIndex, &h.Content, &h.ContextualContent, &meta, &h.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func sanitizeFTSQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var sb strings.Builder
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
