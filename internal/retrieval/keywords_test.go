package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "hello world", Normalize("  Hello   World \n"))
	require.Equal(t, "", Normalize("   \t "))
}

func TestKeywordsLatin(t *testing.T) {
	tokens := Keywords("What is the Refund Policy?")
	require.Equal(t, []string{"what", "is", "the", "refund", "policy"}, tokens)
}

func TestKeywordsCJKNgrams(t *testing.T) {
	tokens := Keywords("新津区")
	require.Contains(t, tokens, "新津")
	require.Contains(t, tokens, "津区")
	require.Contains(t, tokens, "新津区")
}

func TestKeywordsCompoundProperNoun(t *testing.T) {
	// every n-gram of the query must appear among the tokens of a text
	// containing the same string, so an all-tokens AND query still matches
	query := "新津区四色餐馆"
	content := "我上周去了新津区四色餐馆，味道不错。"

	queryTokens := Keywords(query)
	require.NotEmpty(t, queryTokens)
	contentTokens := make(map[string]struct{})
	for _, token := range Keywords(content) {
		contentTokens[token] = struct{}{}
	}
	for _, token := range queryTokens {
		_, ok := contentTokens[token]
		require.True(t, ok, "token %q missing from content tokens", token)
	}
}

func TestKeywordsMixed(t *testing.T) {
	tokens := Keywords("iPhone15 发布会")
	require.Contains(t, tokens, "iphone15")
	require.Contains(t, tokens, "发布")
	require.Contains(t, tokens, "布会")
	require.Contains(t, tokens, "发布会")
}

func TestKeywordsPunctuationOnly(t *testing.T) {
	require.Empty(t, Keywords("?!,。！"))
}

func TestKeywordsSingleCJKRune(t *testing.T) {
	require.Equal(t, []string{"水"}, Keywords("水"))
}

func TestKeywordsDeduplicates(t *testing.T) {
	tokens := Keywords("go go go")
	require.Equal(t, []string{"go"}, tokens)
}

func TestFuzzyTokensBigramsOnly(t *testing.T) {
	tokens := FuzzyTokens("成都天气")
	require.ElementsMatch(t, []string{"成都", "都天", "天气"}, tokens)
}
