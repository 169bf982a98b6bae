package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/ai"
	"github.com/corbeau/kbserve/internal/model"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
)

// embedTaskQuery is the task type hint for query-side embeddings.
const embedTaskQuery = "RETRIEVAL_QUERY"

type SearchStore interface {
	SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64) ([]model.SearchHit, error)
	LexicalSearch(ctx context.Context, queryText string, limit int) ([]model.SearchHit, error)
}

type DocumentInfoStore interface {
	ListInfoByIDs(ctx context.Context, ids []string) (map[string]model.DocumentInfo, error)
}

type QueryLogStore interface {
	Insert(ctx context.Context, entry *model.QueryLogEntry) error
}

// DefaultSemanticThreshold is the minimum cosine similarity for semantic-only
// retrieval; the hybrid path leaves filtering to rank fusion instead.
const DefaultSemanticThreshold = 0.5

type Options struct {
	TopK              int
	UseHybrid         bool
	RRFK              int
	SemanticThreshold float64
	// CandidateLimit bounds each underlying rank list before fusion.
	CandidateLimit int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}
	if o.SemanticThreshold <= 0 {
		o.SemanticThreshold = DefaultSemanticThreshold
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = 50
	}
	return o
}

// Retriever answers queries with hybrid (semantic + lexical) search fused by
// reciprocal rank. Fusion runs client-side over the two rank lists the store
// returns; the result is identical to fusing server-side over the same lists.
type Retriever struct {
	store    SearchStore
	embedder ai.IEmbedder
	docs     DocumentInfoStore
	logs     QueryLogStore
	newID    func() string
	cache    *expirable.LRU[string, []float32]
}

func NewRetriever(store SearchStore, embedder ai.IEmbedder, docs DocumentInfoStore, logs QueryLogStore, newID func() string) *Retriever {
	if newID == nil {
		newID = defaultNewID
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		docs:     docs,
		logs:     logs,
		newID:    newID,
		cache:    expirable.NewLRU[string, []float32](2048, nil, 30*time.Minute),
	}
}

// Retrieve returns a ranked result list for the query. With hybrid enabled
// the semantic list is left unthresholded and relevance filtering is left to
// the rank fusion; with hybrid disabled the semantic threshold applies.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]model.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, appErr.ErrInvalid
	}
	opts = opts.withDefaults()
	logger := logutil.GetLogger(ctx).With(zap.String("query", query))

	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		logger.Error("failed to embed query", zap.Error(err))
		return nil, err
	}

	if !opts.UseHybrid {
		hits, err := r.store.SemanticSearch(ctx, queryVec, opts.TopK, opts.SemanticThreshold)
		if err != nil {
			return nil, err
		}
		results := make([]model.RetrievalResult, 0, len(hits))
		for i, hit := range hits {
			results = append(results, model.RetrievalResult{
				ChunkID:           hit.ChunkID,
				DocumentID:        hit.DocumentID,
				Content:           hit.Content,
				ContextualContent: hit.ContextualContent,
				Metadata:          hit.Metadata,
				Score:             hit.Score,
				SemanticRank:      i + 1,
			})
		}
		return results, nil
	}

	semantic, err := r.store.SemanticSearch(ctx, queryVec, opts.CandidateLimit, 0)
	if err != nil {
		return nil, err
	}
	lexical, err := r.store.LexicalSearch(ctx, query, opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	fused := fuseRRF(semantic, lexical, opts.RRFK)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	logger.Debug("hybrid retrieval done",
		zap.Int("semantic_hits", len(semantic)),
		zap.Int("lexical_hits", len(lexical)),
		zap.Int("returned", len(fused)))
	return fused, nil
}

// GetDocumentInfo batch-resolves provenance for display, deduplicating ids.
func (r *Retriever) GetDocumentInfo(ctx context.Context, ids []string) (map[string]model.DocumentInfo, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return r.docs.ListInfoByIDs(ctx, unique)
}

// LogQuery records query analytics best-effort in the background. It never
// fails or delays retrieval.
func (r *Retriever) LogQuery(query string, results []model.RetrievalResult, modelUsed, responseText string, latency time.Duration) {
	if r.logs == nil {
		return
	}
	entry := &model.QueryLogEntry{
		ID:        r.newID(),
		QueryText: query,
		ModelUsed: modelUsed,
		Response:  responseText,
		LatencyMS: latency.Milliseconds(),
		Ctime:     time.Now().UnixMilli(),
	}
	for _, res := range results {
		entry.ChunkIDs = append(entry.ChunkIDs, res.ChunkID)
		entry.Scores = append(entry.Scores, res.Score)
	}
	go func() {
		defer func() { _ = recover() }()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.logs.Insert(ctx, entry); err != nil {
			logutil.GetLogger(ctx).Warn("query log write failed", zap.Error(err))
		}
	}()
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := r.cacheKey(query)
	if vec, ok := r.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := r.embedder.Embed(ctx, query, embedTaskQuery)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, vec)
	return vec, nil
}

func (r *Retriever) cacheKey(query string) string {
	hash := sha256.Sum256([]byte(r.embedder.ModelName() + "\x00" + query))
	return hex.EncodeToString(hash[:])
}
