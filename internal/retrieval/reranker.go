package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/model"
)

// RerankProvider scores each candidate document against the query with a
// cross-encoder model. Scores come back index-aligned with the input.
type RerankProvider interface {
	Rerank(ctx context.Context, model string, query string, documents []string) ([]float64, error)
}

type RerankerFactory func(args interface{}) (RerankProvider, error)

var rerankRegistry = map[string]RerankerFactory{}

func RegisterRerankProvider(name string, factory RerankerFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	rerankRegistry[key] = factory
}

func NewRerankProvider(name string, args interface{}) (RerankProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, nil
	}
	factory := rerankRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported rerank provider: %s", name)
	}
	return factory(args)
}

// Reranker applies an optional cross-encoder refinement pass over the
// retriever's output. It is always best-effort: with no provider, an empty
// candidate set, or a provider error, the caller gets the pre-rerank
// ordering truncated to topK.
type Reranker struct {
	provider RerankProvider
	model    string
	timeout  time.Duration
}

func NewReranker(provider RerankProvider, model string, timeout time.Duration) *Reranker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Reranker{provider: provider, model: model, timeout: timeout}
}

// RerankWithFallback is the single entry point all callers use; it guarantees
// graceful degradation to the input ordering.
func (r *Reranker) RerankWithFallback(ctx context.Context, query string, results []model.RetrievalResult, topK int) []model.RetrievalResult {
	if topK <= 0 {
		topK = 5
	}
	truncated := results
	if len(truncated) > topK {
		truncated = truncated[:topK]
	}
	if r == nil || r.provider == nil || len(results) == 0 {
		return truncated
	}

	reranked, err := r.rerank(ctx, query, results, topK)
	if err != nil {
		logutil.GetLogger(ctx).Warn("rerank failed, falling back to fused ordering", zap.Error(err))
		return truncated
	}
	return reranked
}

func (r *Reranker) rerank(ctx context.Context, query string, results []model.RetrievalResult, topK int) ([]model.RetrievalResult, error) {
	docs := make([]string, 0, len(results))
	for _, res := range results {
		docs = append(docs, res.ContextualContent)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	scores, err := r.provider.Rerank(callCtx, r.model, query, docs)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(results) {
		return nil, fmt.Errorf("rerank returned %d scores for %d candidates", len(scores), len(results))
	}
	reranked := make([]model.RetrievalResult, len(results))
	copy(reranked, results)
	for i := range reranked {
		reranked[i].Score = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked, nil
}

type restRerankConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

// restRerankProvider speaks the common REST rerank shape (Jina and Cohere v1
// compatible): POST {model, query, documents} -> {results: [{index,
// relevance_score}]}.
type restRerankProvider struct {
	endpoint string
	apiKey   string
}

func init() {
	RegisterRerankProvider("rest", createRESTRerankProvider)
}

func createRESTRerankProvider(args interface{}) (RerankProvider, error) {
	cfg := &restRerankConfig{}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode rerank provider config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode rerank provider config: %w", err)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank.data.endpoint is required")
	}
	return &restRerankProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
	}, nil
}

type restRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type restRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (p *restRerankProvider) Rerank(ctx context.Context, model string, query string, documents []string) ([]float64, error) {
	reqBody := restRerankRequest{Model: model, Query: query, Documents: documents}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out restRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	scores := make([]float64, len(documents))
	for _, res := range out.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", res.Index)
		}
		scores[res.Index] = res.RelevanceScore
	}
	return scores, nil
}
