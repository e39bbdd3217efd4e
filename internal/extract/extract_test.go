package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestMatchKeywords(t *testing.T) {
	t.Parallel()

	text := "Advisory: CVE-2024-1234 affects the Login (beta) page. URGENT patch."
	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{name: "literal via regex", patterns: []string{"CVE-2024-1234"}, want: []string{"CVE-2024-1234"}},
		{name: "case insensitive regex", patterns: []string{"urgent"}, want: []string{"urgent"}},
		{name: "regex syntax", patterns: []string{`CVE-\d{4}-\d+`}, want: []string{`CVE-\d{4}-\d+`}},
		{name: "invalid regex falls back to substring", patterns: []string{"(beta"}, want: []string{"(beta"}},
		{name: "invalid regex without match", patterns: []string{"(gamma"}, want: nil},
		{name: "order preserved and missing skipped", patterns: []string{"patch", "absent", "login"}, want: []string{"patch", "login"}},
		{name: "duplicates collapse", patterns: []string{"patch", "patch"}, want: []string{"patch"}},
		{name: "blank patterns ignored", patterns: []string{"", "   "}, want: nil},
		{name: "no patterns", patterns: nil, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, MatchKeywords(text, tt.patterns))
		})
	}
}

func TestMatchKeywordsUnclosedGroupDoesNotPanic(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		got := MatchKeywords("call foo(unclosed here", []string{"(unclosed"})
		require.Equal(t, []string{"(unclosed"}, got)
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b c", Summarize("  a \n\n b\t\tc  ", 500))
	require.Equal(t, "", Summarize(" \n\t ", 500))

	long := strings.Repeat("x", 600)
	got := Summarize(long, 500)
	require.Equal(t, strings.Repeat("x", 500)+"...", got)

	exact := strings.Repeat("y", 500)
	require.Equal(t, exact, Summarize(exact, 500))

	require.Equal(t, strings.Repeat("z", DefaultSummaryLength)+"...", Summarize(strings.Repeat("z", 501), 0))
}

func TestSummarizeCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("漏", 10)
	got := Summarize(text, 4)
	require.Equal(t, "漏漏漏漏...", got)
	require.True(t, utf8.ValidString(got))
}

func TestDetail(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", Detail("short", 10))
	require.Equal(t, "高危高", Detail("高危高危", 3))
	require.Len(t, []rune(Detail(strings.Repeat("a", 6000), 0)), DefaultDetailLength)
}
