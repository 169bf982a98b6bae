package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/filestore"
	"github.com/corbeau/kbserve/internal/ingest"
	"github.com/corbeau/kbserve/internal/model"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
)

const (
	maxUploadSize  = 50 << 20
	processTimeout = 30 * time.Minute
)

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, limit uint) ([]model.Document, error)
}

type ChunkLister interface {
	ListByDocument(ctx context.Context, documentID string) ([]model.Chunk, error)
}

// Pipeline is the ingestion side consumed by the service; *ingest.Processor
// is the production implementation.
type Pipeline interface {
	Process(ctx context.Context, id string) error
	Reprocess(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// DocumentService owns the document lifecycle API surface. Uploads create a
// pending record and kick off processing in the background; the HTTP caller
// never waits for extraction or embedding.
type DocumentService struct {
	docs      DocumentStore
	chunks    ChunkLister
	blobs     filestore.Store
	processor Pipeline
}

func NewDocumentService(docs DocumentStore, chunks ChunkLister, blobs filestore.Store, processor Pipeline) *DocumentService {
	return &DocumentService{docs: docs, chunks: chunks, blobs: blobs, processor: processor}
}

type UploadRequest struct {
	Name        string
	Description string
	FileType    model.FileType
	File        *multipart.FileHeader
}

var extToType = map[string]model.FileType{
	".pdf":  model.FileTypePDF,
	".docx": model.FileTypeDocx,
	".txt":  model.FileTypeTxt,
	".md":   model.FileTypeTxt,
	".png":  model.FileTypeImage,
	".jpg":  model.FileTypeImage,
	".jpeg": model.FileTypeImage,
}

func (s *DocumentService) Upload(ctx context.Context, req *UploadRequest) (*model.Document, error) {
	if req.File == nil {
		return nil, fmt.Errorf("%w: file is required", appErr.ErrInvalid)
	}
	if req.File.Size > maxUploadSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", appErr.ErrInvalid, maxUploadSize)
	}
	fileType := req.FileType
	if fileType == "" {
		fileType = extToType[strings.ToLower(filepath.Ext(req.File.Filename))]
	}
	if !fileType.Valid() {
		return nil, fmt.Errorf("%w: unsupported file type %q", appErr.ErrInvalid, string(req.FileType))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.File.Filename
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", appErr.ErrInvalid)
	}

	src, err := req.File.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	now := time.Now().UnixMilli()
	doc := &model.Document{
		ID:          newID(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		FileType:    fileType,
		MimeType:    req.File.Header.Get("Content-Type"),
		Status:      model.StatusPending,
		Ctime:       now,
		Mtime:       now,
	}
	doc.FileKey = doc.ID + strings.ToLower(filepath.Ext(req.File.Filename))
	if err := s.blobs.Save(ctx, doc.FileKey, src, req.File.Size, doc.MimeType); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.processAsync(doc.ID)
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, limit uint) ([]model.Document, error) {
	return s.docs.List(ctx, limit)
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.Get(ctx, id)
}

// Reprocess re-runs the full pipeline for an existing document. Safe to call
// on ready and error documents alike; a document currently processing is
// rejected so two pipelines never race on the same chunk rows — unless its
// mtime shows the run was abandoned (e.g. a crash mid-pipeline), in which
// case it may be reclaimed.
func (s *DocumentService) Reprocess(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.StatusProcessing &&
		time.Now().UnixMilli()-doc.Mtime < ingest.StaleProcessingAge.Milliseconds() {
		return nil, fmt.Errorf("%w: document is being processed", appErr.ErrConflict)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.processor.Reprocess(ctx, id); err != nil {
			logutil.GetLogger(ctx).Error("reprocess document failed", zap.String("doc_id", id), zap.Error(err))
		}
	}()
	return doc, nil
}

func (s *DocumentService) Delete(ctx context.Context, id string) error {
	return s.processor.Delete(ctx, id)
}

// Chunks returns a document's stored chunks in index order. Embeddings are
// not serialized.
func (s *DocumentService) Chunks(ctx context.Context, id string) ([]model.Chunk, error) {
	if _, err := s.docs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, id)
}

func (s *DocumentService) processAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.processor.Process(ctx, id); err != nil {
			logutil.GetLogger(ctx).Error("process document failed", zap.String("doc_id", id), zap.Error(err))
		}
	}()
}
