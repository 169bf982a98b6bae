package retrieval

import (
	"sort"

	"github.com/corbeau/kbserve/internal/model"
)

// DefaultRRFK is the conventional reciprocal rank fusion constant. Smaller
// values let top ranks dominate; larger values flatten the blend.
const DefaultRRFK = 60

// fuseRRF merges the semantic and lexical rank lists. Each chunk contributes
// 1/(k+rank) per list it appears in (rank is 1-based within that list) and
// the contributions are summed. Output is sorted by fused score descending,
// with chunk id as a deterministic tie-break.
func fuseRRF(semantic, lexical []model.SearchHit, k int) []model.RetrievalResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	merged := make(map[string]*model.RetrievalResult)
	order := make([]string, 0, len(semantic)+len(lexical))

	add := func(hit model.SearchHit) *model.RetrievalResult {
		if r, ok := merged[hit.ChunkID]; ok {
			return r
		}
		r := &model.RetrievalResult{
			ChunkID:           hit.ChunkID,
			DocumentID:        hit.DocumentID,
			Content:           hit.Content,
			ContextualContent: hit.ContextualContent,
			Metadata:          hit.Metadata,
		}
		merged[hit.ChunkID] = r
		order = append(order, hit.ChunkID)
		return r
	}

	for i, hit := range semantic {
		r := add(hit)
		r.SemanticRank = i + 1
		r.Score += 1.0 / float64(k+i+1)
	}
	for i, hit := range lexical {
		r := add(hit)
		r.LexicalRank = i + 1
		r.Score += 1.0 / float64(k+i+1)
	}

	results := make([]model.RetrievalResult, 0, len(order))
	for _, id := range order {
		results = append(results, *merged[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}
