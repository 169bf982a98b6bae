package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corbeau/kbserve/internal/model"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
)

type fakeSearchStore struct {
	semantic []model.SearchHit
	lexical  []model.SearchHit

	semLimit     int
	semThreshold float64
	lexQuery     string
}

func (s *fakeSearchStore) SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64) ([]model.SearchHit, error) {
	s.semLimit = limit
	s.semThreshold = threshold
	return s.semantic, nil
}

func (s *fakeSearchStore) LexicalSearch(ctx context.Context, queryText string, limit int) ([]model.SearchHit, error) {
	s.lexQuery = queryText
	return s.lexical, nil
}

type fakeQueryEmbedder struct {
	calls int
	err   error
}

func (e *fakeQueryEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

func (e *fakeQueryEmbedder) ModelName() string {
	return "fake-embed"
}

type fakeInfoStore struct {
	gotIDs []string
	infos  map[string]model.DocumentInfo
}

func (s *fakeInfoStore) ListInfoByIDs(ctx context.Context, ids []string) (map[string]model.DocumentInfo, error) {
	s.gotIDs = ids
	return s.infos, nil
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := NewRetriever(&fakeSearchStore{}, &fakeQueryEmbedder{}, &fakeInfoStore{}, nil, nil)
	_, err := r.Retrieve(context.Background(), "   ", Options{})
	require.True(t, appErr.IsInvalid(err))
}

func TestRetrieveEmbedErrorPropagates(t *testing.T) {
	wantErr := errors.New("embed down")
	r := NewRetriever(&fakeSearchStore{}, &fakeQueryEmbedder{err: wantErr}, &fakeInfoStore{}, nil, nil)
	_, err := r.Retrieve(context.Background(), "anything", Options{UseHybrid: true})
	require.ErrorIs(t, err, wantErr)
}

func TestRetrieveSemanticOnly(t *testing.T) {
	store := &fakeSearchStore{semantic: []model.SearchHit{
		{ChunkID: "A", DocumentID: "d1", Content: "alpha", Score: 0.91},
		{ChunkID: "B", DocumentID: "d2", Content: "beta", Score: 0.72},
	}}
	r := NewRetriever(store, &fakeQueryEmbedder{}, &fakeInfoStore{}, nil, nil)

	results, err := r.Retrieve(context.Background(), "alpha", Options{TopK: 7, SemanticThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 7, store.semLimit)
	require.Equal(t, 0.5, store.semThreshold)
	require.Equal(t, "A", results[0].ChunkID)
	require.Equal(t, 0.91, results[0].Score)
	require.Equal(t, 1, results[0].SemanticRank)
	require.Equal(t, 0, results[0].LexicalRank)
	require.Equal(t, 2, results[1].SemanticRank)
}

func TestRetrieveSemanticOnlyDefaultsThreshold(t *testing.T) {
	store := &fakeSearchStore{}
	r := NewRetriever(store, &fakeQueryEmbedder{}, &fakeInfoStore{}, nil, nil)

	// a zero Options value still filters weak semantic matches
	_, err := r.Retrieve(context.Background(), "alpha", Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultSemanticThreshold, store.semThreshold)
	require.Equal(t, 10, store.semLimit)
}

func TestRetrieveHybridFusesAndTruncates(t *testing.T) {
	store := &fakeSearchStore{
		semantic: []model.SearchHit{hit("A", "d1"), hit("B", "d1")},
		lexical:  []model.SearchHit{hit("B", "d1"), hit("C", "d2")},
	}
	r := NewRetriever(store, &fakeQueryEmbedder{}, &fakeInfoStore{}, nil, nil)

	results, err := r.Retrieve(context.Background(), "beta", Options{TopK: 2, UseHybrid: true, CandidateLimit: 40})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// B appears in both lists and wins; fusion ignores the semantic threshold
	require.Equal(t, "B", results[0].ChunkID)
	require.Equal(t, "A", results[1].ChunkID)
	require.Equal(t, 40, store.semLimit)
	require.Equal(t, 0.0, store.semThreshold)
	require.Equal(t, "beta", store.lexQuery)
}

func TestRetrieveCachesQueryEmbedding(t *testing.T) {
	embedder := &fakeQueryEmbedder{}
	r := NewRetriever(&fakeSearchStore{}, embedder, &fakeInfoStore{}, nil, nil)

	_, err := r.Retrieve(context.Background(), "same query", Options{UseHybrid: true})
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "same query", Options{UseHybrid: true})
	require.NoError(t, err)
	require.Equal(t, 1, embedder.calls)

	_, err = r.Retrieve(context.Background(), "different query", Options{UseHybrid: true})
	require.NoError(t, err)
	require.Equal(t, 2, embedder.calls)
}

func TestGetDocumentInfoDeduplicates(t *testing.T) {
	infos := &fakeInfoStore{infos: map[string]model.DocumentInfo{
		"d1": {Name: "Manual"},
		"d2": {Name: "Guide"},
	}}
	r := NewRetriever(&fakeSearchStore{}, &fakeQueryEmbedder{}, infos, nil, nil)

	got, err := r.GetDocumentInfo(context.Background(), []string{"d1", "d2", "d1", "d2"})
	require.NoError(t, err)
	require.Equal(t, []string{"d1", "d2"}, infos.gotIDs)
	require.Equal(t, "Manual", got["d1"].Name)
}
