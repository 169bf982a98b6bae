package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/ai"
	"github.com/corbeau/kbserve/internal/extract"
	"github.com/corbeau/kbserve/internal/model"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
)

// embedTaskDocument is the task type hint passed to embedding providers for
// stored chunks (queries use a different hint).
const embedTaskDocument = "RETRIEVAL_DOCUMENT"

// StaleProcessingAge is how long a document may sit in processing before the
// run is considered abandoned (crash mid-pipeline) and the document becomes
// reclaimable. Must stay above the pipeline timeout so a live run is never
// stolen.
const StaleProcessingAge = 45 * time.Minute

type DocumentStore interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkReady(ctx context.Context, id string, chunkCount, totalTokens int) error
	MarkError(ctx context.Context, id string, message string) error
	Delete(ctx context.Context, id string) error
}

type ChunkStore interface {
	Insert(ctx context.Context, chunk *model.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

type BlobStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Processor drives the document lifecycle state machine:
// pending -> processing -> ready|error. It is the only writer of document
// status and derived counts. Chunks are embedded and stored one at a time,
// in order; documents can be processed concurrently since they touch
// disjoint rows.
type Processor struct {
	docs     DocumentStore
	chunks   ChunkStore
	blobs    BlobStore
	embedder ai.IEmbedder
	chunker  *Chunker
	newID    func() string
}

func NewProcessor(docs DocumentStore, chunks ChunkStore, blobs BlobStore, embedder ai.IEmbedder, chunker *Chunker, newID func() string) *Processor {
	if newID == nil {
		newID = defaultNewID
	}
	return &Processor{
		docs:     docs,
		chunks:   chunks,
		blobs:    blobs,
		embedder: embedder,
		chunker:  chunker,
		newID:    newID,
	}
}

// Process runs the full ingestion pipeline for one document. Any stage
// failure is converted into status=error with a human-readable message; it is
// never retried here (retry is an operator decision via Reprocess).
func (p *Processor) Process(ctx context.Context, id string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", id))
	doc, err := p.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := p.docs.MarkProcessing(ctx, id); err != nil {
		return err
	}
	start := time.Now()
	chunkCount, totalTokens, err := p.run(ctx, doc)
	if err != nil {
		logger.Error("document processing failed", zap.Error(err))
		if markErr := p.docs.MarkError(ctx, id, err.Error()); markErr != nil {
			logger.Error("failed to record document error", zap.Error(markErr))
		}
		return err
	}
	if err := p.docs.MarkReady(ctx, id, chunkCount, totalTokens); err != nil {
		return err
	}
	logger.Info("document processed",
		zap.Int("chunk_count", chunkCount),
		zap.Int("total_tokens", totalTokens),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Reprocess deletes the document's chunks and runs Process again. Running it
// twice on unchanged source bytes yields an equivalent chunk set.
func (p *Processor) Reprocess(ctx context.Context, id string) error {
	if _, err := p.docs.Get(ctx, id); err != nil {
		return err
	}
	if err := p.chunks.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	return p.Process(ctx, id)
}

// Delete removes the backing blob, all chunks and the document record. Safe
// to call whatever state processing reached.
func (p *Processor) Delete(ctx context.Context, id string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", id))
	doc, err := p.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.FileKey != "" {
		if err := p.blobs.Delete(ctx, doc.FileKey); err != nil {
			// the blob may already be gone; the record must still be removable
			logger.Warn("failed to delete backing blob", zap.String("file_key", doc.FileKey), zap.Error(err))
		}
	}
	if err := p.chunks.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := p.docs.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("document deleted")
	return nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document) (int, int, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", doc.ID))

	reader, err := p.blobs.Open(ctx, doc.FileKey)
	if err != nil {
		return 0, 0, fmt.Errorf("open document blob: %w", err)
	}
	data, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("read document blob: %w", err)
	}

	extractor, err := extract.New(doc.FileType)
	if err != nil {
		return 0, 0, err
	}
	parsed, err := extractor.Extract(ctx, data, doc.MimeType)
	if err != nil {
		return 0, 0, fmt.Errorf("parse document: %w", err)
	}
	title := parsed.Title
	if title == "" {
		title = doc.Name
	}
	logger.Info("document parsed",
		zap.Int("text_len", len(parsed.Text)),
		zap.Int("pages", len(parsed.Pages)))

	chunks, err := p.chunker.Chunk(ctx, parsed.Text, title, parsed.Pages)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return 0, 0, extract.ErrEmptyDocument
	}

	totalTokens := 0
	now := time.Now().UnixMilli()
	for _, chunk := range chunks {
		// a chunk without an embedding cannot be indexed, so an embed
		// failure aborts the whole document
		vec, err := p.embedder.Embed(ctx, chunk.ContextualContent, embedTaskDocument)
		if err != nil {
			return 0, 0, fmt.Errorf("embed chunk %d: %w", chunk.ChunkIndex, err)
		}
		chunk.ID = p.newID()
		chunk.DocumentID = doc.ID
		chunk.Embedding = vec
		chunk.Ctime = now
		if err := p.chunks.Insert(ctx, chunk); err != nil {
			return 0, 0, fmt.Errorf("store chunk %d: %w", chunk.ChunkIndex, err)
		}
		totalTokens += chunk.TokenCount
	}
	return len(chunks), totalTokens, nil
}

type PendingLister interface {
	ListByStatus(ctx context.Context, status model.DocumentStatus, limit uint) ([]model.Document, error)
}

// ProcessPending sweeps documents stuck after an unclean shutdown and runs
// them one at a time: everything still pending, plus processing documents
// whose mtime is older than StaleProcessingAge (their pipeline died without
// reaching a terminal status). The loop is cancellable between documents.
func (p *Processor) ProcessPending(ctx context.Context, docs PendingLister, limit uint) error {
	pending, err := docs.ListByStatus(ctx, model.StatusPending, limit)
	if err != nil {
		return err
	}
	processing, err := docs.ListByStatus(ctx, model.StatusProcessing, limit)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-StaleProcessingAge).UnixMilli()
	for _, doc := range processing {
		if doc.Mtime < cutoff {
			pending = append(pending, doc)
		}
	}
	for _, doc := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Process(ctx, doc.ID); err != nil && !appErr.IsNotFound(err) {
			// already recorded on the document; keep sweeping
			continue
		}
	}
	return nil
}
