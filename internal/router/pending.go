package router

import (
	"strings"

	"github.com/docchat/docchat/internal/retrieval"
)

var affirmatives = map[string]struct{}{
	"yes": {}, "y": {}, "ok": {}, "okay": {}, "sure": {}, "confirm": {},
	"好": {}, "好的": {}, "是": {}, "是的": {}, "对": {}, "对的": {},
	"嗯": {}, "可以": {}, "确认": {}, "确定": {}, "没错": {},
}

var negatives = map[string]struct{}{
	"no": {}, "n": {}, "nope": {},
	"不": {}, "不是": {}, "不对": {}, "不用": {}, "否": {},
}

func isAffirmative(text string) bool {
	_, ok := affirmatives[normalizeReply(text)]
	return ok
}

func isNegative(text string) bool {
	_, ok := negatives[normalizeReply(text)]
	return ok
}

func normalizeReply(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(text, ".!。！~")
}

// resolveConfirmFuzzy interprets the turn after a fuzzy verdict was offered
// for confirmation. An affirmative promotes the fuzzy matches to a normal
// answer; anything else abandons them and the turn is routed afresh.
func resolveConfirmFuzzy(pending *Action, query string) *Action {
	if !isAffirmative(query) {
		return nil
	}
	return Answer(&retrieval.Verdict{Matches: pending.Verdict.Matches})
}

// resolveChooseSource matches a selection turn against the offered source
// documents, by position ("1", "2") or by name. A match narrows the
// pending verdict to that document's chunks.
func resolveChooseSource(pending *Action, query string) *Action {
	candidates := pending.Verdict.Candidates
	selected := pickCandidate(candidates, query)
	if selected == nil {
		return nil
	}
	matches := make([]retrieval.Match, 0, len(pending.Verdict.Matches))
	for _, m := range pending.Verdict.Matches {
		if m.Document.ID == selected.Document.ID {
			matches = append(matches, m)
		}
	}
	return Answer(&retrieval.Verdict{Matches: matches})
}

func pickCandidate(candidates []retrieval.Match, query string) *retrieval.Match {
	reply := normalizeReply(query)
	if reply == "" {
		return nil
	}
	for i := range candidates {
		if reply == ordinal(i+1) {
			return &candidates[i]
		}
	}
	for i := range candidates {
		name := strings.ToLower(candidates[i].Document.Name)
		if strings.Contains(name, reply) || strings.Contains(reply, name) {
			return &candidates[i]
		}
	}
	return nil
}

func ordinal(n int) string {
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	return string(digits[n/10]) + string(digits[n%10])
}

// resolveAskForParameter treats a short reply as the value of the missing
// parameter. Long replies look like a new question and fall through to a
// fresh route.
func resolveAskForParameter(pending *Action, query string) (*Tool, map[string]string, bool) {
	reply := strings.TrimSpace(query)
	if reply == "" || len([]rune(reply)) > 64 {
		return nil, nil, false
	}
	args := make(map[string]string, len(pending.Args)+1)
	for k, v := range pending.Args {
		args[k] = v
	}
	args[pending.MissingParam] = reply
	return pending.Tool, args, true
}
