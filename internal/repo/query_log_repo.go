package repo

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/corbeau/kbserve/internal/model"
)

// QueryLogRepo is write-only analytics storage; the retrieval path never
// reads it back.
type QueryLogRepo struct {
	db *sql.DB
}

func NewQueryLogRepo(db *sql.DB) *QueryLogRepo {
	return &QueryLogRepo{db: db}
}

func (r *QueryLogRepo) Insert(ctx context.Context, entry *model.QueryLogEntry) error {
	const query = `
		INSERT INTO rag_query_log
			(id, query_text, chunk_ids, scores, model_used, response_text, latency_ms, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.QueryText,
		pq.Array(entry.ChunkIDs),
		pq.Array(entry.Scores),
		entry.ModelUsed,
		entry.Response,
		entry.LatencyMS,
		entry.Ctime,
	)
	return err
}

func (r *QueryLogRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM rag_query_log WHERE ctime < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
