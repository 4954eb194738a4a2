package retrieval

import (
	"strings"
	"unicode"
)

// Normalize lowercases text and collapses runs of whitespace so the same
// query always produces the same token set.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Keywords extracts the lexical tokens of a text: whole words for
// alphabetic/numeric runs, plus sliding n-grams of sizes 2 to 4 over CJK
// runs. CJK text carries no word boundaries, so compound terms like place
// names would vanish under plain whitespace splitting; the n-grams keep
// them matchable. The same function tokenizes both chunk content at index
// time and queries at search time.
func Keywords(text string) []string {
	return tokenize(text, 2, 4)
}

// FuzzyTokens is the relaxed token set used for majority matching: words
// plus CJK bigrams only. Bigrams are the smallest unit that still carries
// meaning in CJK text, and limiting fuzzy matching to them keeps the
// majority vote from being dominated by longer overlapping n-grams.
func FuzzyTokens(text string) []string {
	return tokenize(text, 2, 2)
}

func tokenize(text string, minGram, maxGram int) []string {
	text = Normalize(text)
	seen := make(map[string]struct{})
	tokens := make([]string, 0, 16)
	add := func(token string) {
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	var word []rune
	var cjk []rune
	flushWord := func() {
		if len(word) > 0 {
			add(string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) == 0 {
			return
		}
		if len(cjk) < minGram {
			add(string(cjk))
		}
		for size := minGram; size <= maxGram; size++ {
			for i := 0; i+size <= len(cjk); i++ {
				add(string(cjk[i : i+size]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
