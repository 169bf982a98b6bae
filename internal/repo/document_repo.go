package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/corbeau/kbserve/internal/model"
	"github.com/corbeau/kbserve/internal/pkg/dbutil"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
)

const documentTable = "documents"

var documentColumns = []string{
	"id", "name", "description", "file_type", "mime_type", "file_key",
	"status", "error_message", "chunk_count", "total_tokens", "ctime", "mtime",
}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":            doc.ID,
		"name":          doc.Name,
		"description":   doc.Description,
		"file_type":     string(doc.FileType),
		"mime_type":     doc.MimeType,
		"file_key":      doc.FileKey,
		"status":        string(doc.Status),
		"error_message": doc.ErrorMessage,
		"chunk_count":   doc.ChunkCount,
		"total_tokens":  doc.TotalTokens,
		"ctime":         doc.Ctime,
		"mtime":         doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert(documentTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect(documentTable, map[string]interface{}{"id": id}, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect(documentTable, where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryDocuments(ctx, sqlStr, args...)
}

func (r *DocumentRepo) ListByStatus(ctx context.Context, status model.DocumentStatus, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   string(status),
		"_orderby": "ctime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect(documentTable, where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryDocuments(ctx, sqlStr, args...)
}

// ListInfoByIDs returns the provenance projection for a deduplicated id set.
func (r *DocumentRepo) ListInfoByIDs(ctx context.Context, ids []string) (map[string]model.DocumentInfo, error) {
	if len(ids) == 0 {
		return map[string]model.DocumentInfo{}, nil
	}
	query := `SELECT id, name, description FROM documents WHERE id IN (?)`
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]model.DocumentInfo)
	for rows.Next() {
		var id string
		var info model.DocumentInfo
		if err := rows.Scan(&id, &info.Name, &info.Description); err != nil {
			return nil, err
		}
		result[id] = info
	}
	return result, rows.Err()
}

// MarkProcessing enters the processing state and resets error and derived
// counts, so a reprocess never reports stale numbers.
func (r *DocumentRepo) MarkProcessing(ctx context.Context, id string) error {
	const query = `
		UPDATE documents
		SET status = $1, error_message = '', chunk_count = 0, total_tokens = 0, mtime = $2
		WHERE id = $3
	`
	return r.exec(ctx, query, string(model.StatusProcessing), time.Now().UnixMilli(), id)
}

func (r *DocumentRepo) MarkReady(ctx context.Context, id string, chunkCount, totalTokens int) error {
	const query = `
		UPDATE documents
		SET status = $1, error_message = '', chunk_count = $2, total_tokens = $3, mtime = $4
		WHERE id = $5
	`
	return r.exec(ctx, query, string(model.StatusReady), chunkCount, totalTokens, time.Now().UnixMilli(), id)
}

func (r *DocumentRepo) MarkError(ctx context.Context, id string, message string) error {
	const query = `
		UPDATE documents
		SET status = $1, error_message = $2, mtime = $3
		WHERE id = $4
	`
	return r.exec(ctx, query, string(model.StatusError), message, time.Now().UnixMilli(), id)
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := builder.BuildDelete(documentTable, map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]model.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var d model.Document
	var fileType, status string
	if err := row.Scan(
		&d.ID, &d.Name, &d.Description, &fileType, &d.MimeType, &d.FileKey,
		&status, &d.ErrorMessage, &d.ChunkCount, &d.TotalTokens, &d.Ctime, &d.Mtime,
	); err != nil {
		return nil, err
	}
	d.FileType = model.FileType(fileType)
	d.Status = model.DocumentStatus(status)
	return &d, nil
}
