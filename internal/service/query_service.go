package service

import (
	"context"
	"time"

	"github.com/corbeau/kbserve/internal/model"
	"github.com/corbeau/kbserve/internal/retrieval"
)

// QueryService answers retrieval queries: embed, search, fuse, optionally
// rerank, then assemble a grounding context block with provenance.
type QueryService struct {
	retriever  *retrieval.Retriever
	reranker   *retrieval.Reranker
	opts       retrieval.Options
	rerankTopK int
	modelName  string
	logEnabled bool
}

func NewQueryService(retriever *retrieval.Retriever, reranker *retrieval.Reranker, opts retrieval.Options, rerankTopK int, modelName string, logEnabled bool) *QueryService {
	return &QueryService{
		retriever:  retriever,
		reranker:   reranker,
		opts:       opts,
		rerankTopK: rerankTopK,
		modelName:  modelName,
		logEnabled: logEnabled,
	}
}

type QueryRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	UseHybrid *bool  `json:"use_hybrid"`
}

type QuerySource struct {
	DocumentID  string `json:"document_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type QueryResult struct {
	Results   []model.RetrievalResult `json:"results"`
	Context   string                  `json:"context"`
	Sources   []QuerySource           `json:"sources"`
	LatencyMS int64                   `json:"latency_ms"`
}

func (s *QueryService) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	start := time.Now()
	opts := s.opts
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}
	if req.UseHybrid != nil {
		opts.UseHybrid = *req.UseHybrid
	}
	results, err := s.retriever.Retrieve(ctx, req.Query, opts)
	if err != nil {
		return nil, err
	}
	if s.reranker != nil {
		results = s.reranker.RerankWithFallback(ctx, req.Query, results, s.rerankTopK)
	}

	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.DocumentID)
	}
	infos, err := s.retriever.GetDocumentInfo(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := &QueryResult{
		Results: results,
		Context: retrieval.FormatContext(results, infos),
		Sources: buildSources(results, infos),
	}
	out.LatencyMS = time.Since(start).Milliseconds()
	if s.logEnabled {
		s.retriever.LogQuery(req.Query, results, s.modelName, "", time.Since(start))
	}
	return out, nil
}

// buildSources lists each contributing document once, in result order.
func buildSources(results []model.RetrievalResult, infos map[string]model.DocumentInfo) []QuerySource {
	sources := make([]QuerySource, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, res := range results {
		if _, ok := seen[res.DocumentID]; ok {
			continue
		}
		seen[res.DocumentID] = struct{}{}
		src := QuerySource{DocumentID: res.DocumentID}
		if info, ok := infos[res.DocumentID]; ok {
			src.Name = info.Name
			src.Description = info.Description
		}
		sources = append(sources, src)
	}
	return sources
}
