package ingest

// charsPerToken is the fixed character-to-token ratio used for all chunk
// budgets. This is an approximation, not a real tokenizer; ApproxTokens is
// the single place to swap in one without touching chunking logic.
const charsPerToken = 4

func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}
