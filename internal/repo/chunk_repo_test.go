package repo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFTSQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain words", "plain words"},
		{"  padded  ", "padded"},
		{"", ""},
		{"!!!", ""},
		{"drop & table; --", "drop table"},
		{"query:with(operators)|here", "query with operators here"},
		{"unicode Wörter 数据", "unicode Wörter 数据"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, sanitizeFTSQuery(tc.in), "input %q", tc.in)
	}
}
