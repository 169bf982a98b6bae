package retrieval

import (
	"fmt"
	"strings"

	"github.com/corbeau/kbserve/internal/model"
)

// FormatContext renders ranked results into a single provenance-tagged block
// used as grounding text by a downstream answer generator. Pure formatting,
// no ranking logic.
func FormatContext(results []model.RetrievalResult, infos map[string]model.DocumentInfo) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, res := range results {
		title := res.Metadata.Title
		if info, ok := infos[res.DocumentID]; ok && info.Name != "" {
			title = info.Name
		}
		if title == "" {
			title = "unknown document"
		}
		sb.WriteString(fmt.Sprintf("[Source %d: %s", i+1, title))
		if res.Metadata.Page > 0 {
			sb.WriteString(fmt.Sprintf(", page %d", res.Metadata.Page))
		}
		sb.WriteString("]\n")
		sb.WriteString(res.ContextualContent)
		if i < len(results)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
