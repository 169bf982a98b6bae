package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corbeau/kbserve/internal/model"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
)

type fakeDocStore struct {
	docs map[string]*model.Document
}

func newFakeDocStore(docs ...*model.Document) *fakeDocStore {
	s := &fakeDocStore{docs: make(map[string]*model.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeDocStore) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeDocStore) MarkProcessing(ctx context.Context, id string) error {
	doc, ok := s.docs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	doc.Status = model.StatusProcessing
	doc.ErrorMessage = ""
	doc.ChunkCount = 0
	doc.TotalTokens = 0
	doc.Mtime = time.Now().UnixMilli()
	return nil
}

func (s *fakeDocStore) MarkReady(ctx context.Context, id string, chunkCount, totalTokens int) error {
	doc, ok := s.docs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	doc.Status = model.StatusReady
	doc.ChunkCount = chunkCount
	doc.TotalTokens = totalTokens
	doc.Mtime = time.Now().UnixMilli()
	return nil
}

func (s *fakeDocStore) MarkError(ctx context.Context, id string, message string) error {
	doc, ok := s.docs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	doc.Status = model.StatusError
	doc.ErrorMessage = message
	doc.Mtime = time.Now().UnixMilli()
	return nil
}

func (s *fakeDocStore) Delete(ctx context.Context, id string) error {
	if _, ok := s.docs[id]; !ok {
		return appErr.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *fakeDocStore) ListByStatus(ctx context.Context, status model.DocumentStatus, limit uint) ([]model.Document, error) {
	var out []model.Document
	for _, doc := range s.docs {
		if doc.Status == status && uint(len(out)) < limit {
			out = append(out, *doc)
		}
	}
	return out, nil
}

type fakeChunkStore struct {
	inserted []model.Chunk
}

func (s *fakeChunkStore) Insert(ctx context.Context, chunk *model.Chunk) error {
	s.inserted = append(s.inserted, *chunk)
	return nil
}

func (s *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	kept := s.inserted[:0]
	for _, chunk := range s.inserted {
		if chunk.DocumentID != documentID {
			kept = append(kept, chunk)
		}
	}
	s.inserted = kept
	return nil
}

func (s *fakeChunkStore) byDocument(documentID string) []model.Chunk {
	var out []model.Chunk
	for _, chunk := range s.inserted {
		if chunk.DocumentID == documentID {
			out = append(out, chunk)
		}
	}
	return out
}

type fakeBlobStore struct {
	blobs   map[string][]byte
	deleted []string
}

func (s *fakeBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.blobs, key)
	return nil
}

type countingEmbedder struct {
	calls  int
	failAt int // 1-based call number that fails; 0 disables
}

func (e *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	e.calls++
	if e.failAt > 0 && e.calls >= e.failAt {
		return nil, fmt.Errorf("quota exceeded")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *countingEmbedder) ModelName() string {
	return "fake-embed"
}

func testIDGen() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("chunk-%04d", n)
	}
}

func testDocument() *model.Document {
	return &model.Document{
		ID:       "doc1",
		Name:     "manual",
		FileType: model.FileTypeTxt,
		FileKey:  "doc1.txt",
		Status:   model.StatusPending,
	}
}

// five paragraphs, each forcing its own chunk at a 100-char budget
func testBlob() []byte {
	paras := make([]string, 5)
	for i := range paras {
		paras[i] = strings.Repeat(string(rune('a'+i)), 90)
	}
	return []byte(strings.Join(paras, "\n\n"))
}

func newTestProcessor(docs *fakeDocStore, chunks *fakeChunkStore, blobs *fakeBlobStore, embedder *countingEmbedder) *Processor {
	chunker := NewChunker(nil, ChunkOptions{ChunkSize: 25, ChunkOverlap: -1, MinChunkSize: 1})
	return NewProcessor(docs, chunks, blobs, embedder, chunker, testIDGen())
}

func TestProcessorProcessSuccess(t *testing.T) {
	docs := newFakeDocStore(testDocument())
	chunks := &fakeChunkStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"doc1.txt": testBlob()}}
	proc := newTestProcessor(docs, chunks, blobs, &countingEmbedder{})

	require.NoError(t, proc.Process(context.Background(), "doc1"))

	doc := docs.docs["doc1"]
	require.Equal(t, model.StatusReady, doc.Status)
	require.Empty(t, doc.ErrorMessage)

	stored := chunks.byDocument("doc1")
	require.Len(t, stored, 5)
	require.Equal(t, len(stored), doc.ChunkCount)
	totalTokens := 0
	for i, chunk := range stored {
		require.Equal(t, i, chunk.ChunkIndex)
		require.Equal(t, "doc1", chunk.DocumentID)
		require.NotEmpty(t, chunk.ID)
		require.NotEmpty(t, chunk.Embedding)
		totalTokens += chunk.TokenCount
	}
	require.Equal(t, totalTokens, doc.TotalTokens)
}

func TestProcessorEmbedFailureAbortsDocument(t *testing.T) {
	docs := newFakeDocStore(testDocument())
	chunks := &fakeChunkStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"doc1.txt": testBlob()}}
	proc := newTestProcessor(docs, chunks, blobs, &countingEmbedder{failAt: 3})

	err := proc.Process(context.Background(), "doc1")
	require.Error(t, err)

	doc := docs.docs["doc1"]
	require.Equal(t, model.StatusError, doc.Status)
	require.NotEmpty(t, doc.ErrorMessage)
	require.Contains(t, doc.ErrorMessage, "embed chunk")
	require.Equal(t, 0, doc.ChunkCount)
}

func TestProcessorProcessMissingDocument(t *testing.T) {
	proc := newTestProcessor(newFakeDocStore(), &fakeChunkStore{}, &fakeBlobStore{}, &countingEmbedder{})
	err := proc.Process(context.Background(), "absent")
	require.True(t, appErr.IsNotFound(err))
}

func TestProcessorReprocessIdempotent(t *testing.T) {
	docs := newFakeDocStore(testDocument())
	chunks := &fakeChunkStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"doc1.txt": testBlob()}}
	proc := newTestProcessor(docs, chunks, blobs, &countingEmbedder{})

	require.NoError(t, proc.Process(context.Background(), "doc1"))
	first := chunks.byDocument("doc1")
	firstContents := make(map[int]string, len(first))
	for _, chunk := range first {
		firstContents[chunk.ChunkIndex] = chunk.Content
	}

	require.NoError(t, proc.Reprocess(context.Background(), "doc1"))
	second := chunks.byDocument("doc1")
	require.Len(t, second, len(first))
	for _, chunk := range second {
		require.Equal(t, firstContents[chunk.ChunkIndex], chunk.Content)
	}
	require.Equal(t, model.StatusReady, docs.docs["doc1"].Status)
	require.Equal(t, len(second), docs.docs["doc1"].ChunkCount)
}

func TestProcessorDeleteCascades(t *testing.T) {
	docs := newFakeDocStore(testDocument())
	chunks := &fakeChunkStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"doc1.txt": testBlob()}}
	proc := newTestProcessor(docs, chunks, blobs, &countingEmbedder{})

	require.NoError(t, proc.Process(context.Background(), "doc1"))
	require.NoError(t, proc.Delete(context.Background(), "doc1"))

	require.Empty(t, chunks.byDocument("doc1"))
	require.Contains(t, blobs.deleted, "doc1.txt")
	_, err := docs.Get(context.Background(), "doc1")
	require.True(t, appErr.IsNotFound(err))
}

func TestProcessorDeleteBeforeProcessingCompletes(t *testing.T) {
	docs := newFakeDocStore(testDocument())
	proc := newTestProcessor(docs, &fakeChunkStore{}, &fakeBlobStore{blobs: map[string][]byte{}}, &countingEmbedder{})

	// blob already gone: delete must still remove the record
	require.NoError(t, proc.Delete(context.Background(), "doc1"))
	_, err := docs.Get(context.Background(), "doc1")
	require.True(t, appErr.IsNotFound(err))
}

func TestProcessPendingSweepsAndContinues(t *testing.T) {
	good := testDocument()
	broken := &model.Document{
		ID:       "doc2",
		Name:     "missing blob",
		FileType: model.FileTypeTxt,
		FileKey:  "doc2.txt",
		Status:   model.StatusPending,
	}
	docs := newFakeDocStore(good, broken)
	chunks := &fakeChunkStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"doc1.txt": testBlob()}}
	proc := newTestProcessor(docs, chunks, blobs, &countingEmbedder{})

	require.NoError(t, proc.ProcessPending(context.Background(), docs, 10))

	require.Equal(t, model.StatusReady, docs.docs["doc1"].Status)
	require.Equal(t, model.StatusError, docs.docs["doc2"].Status)
	require.NotEmpty(t, docs.docs["doc2"].ErrorMessage)
}

func TestProcessPendingReclaimsStaleProcessing(t *testing.T) {
	now := time.Now()
	abandoned := testDocument()
	abandoned.Status = model.StatusProcessing
	abandoned.Mtime = now.Add(-StaleProcessingAge - time.Hour).UnixMilli()
	live := &model.Document{
		ID:       "doc2",
		Name:     "in flight",
		FileType: model.FileTypeTxt,
		FileKey:  "doc2.txt",
		Status:   model.StatusProcessing,
		Mtime:    now.UnixMilli(),
	}
	docs := newFakeDocStore(abandoned, live)
	chunks := &fakeChunkStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"doc1.txt": testBlob()}}
	proc := newTestProcessor(docs, chunks, blobs, &countingEmbedder{})

	require.NoError(t, proc.ProcessPending(context.Background(), docs, 10))

	// the abandoned run is re-driven to a terminal status
	require.Equal(t, model.StatusReady, docs.docs["doc1"].Status)
	require.Len(t, chunks.byDocument("doc1"), 5)
	// a processing document with a recent mtime belongs to a live pipeline
	require.Equal(t, model.StatusProcessing, docs.docs["doc2"].Status)
	require.Empty(t, chunks.byDocument("doc2"))
}
