// Package match resolves a semantic click or fill target to exactly one
// interactive element, or reports a typed outcome (not found, ambiguous,
// disabled) instead of guessing.
//
// The matcher is deliberately pure: it ranks candidate descriptors harvested
// from the live page and never touches the DOM itself. Heuristic thresholds
// are named constants so the precedence ladder can be tuned without touching
// the algorithm.
package match

import (
	"strings"
	"unicode/utf8"

	"github.com/polzovatel/webagent/internal/textnorm"
)

const (
	// Targets longer than this get word-prefix search strings as well.
	prefixCutRunes   = 20
	longPrefixWords  = 5
	shortPrefixWords = 3

	// Minimum collapsed lengths for whitespace-collapsed matching.
	collapsedMinRunes        = 2
	collapsedMinReverseRunes = 4

	// A lone word this short never satisfies reverse containment inside a
	// much longer request (keeps a stray "OK" from matching a 6-word target).
	strayWordMaxRunes = 4
	strayRequestRatio = 3

	// Targets of at most this many words may be declared ambiguous.
	ambiguityWordLimit = 2

	maxPreviews     = 5
	previewMaxRunes = 60
)

// Candidate is one interactive element harvested from the active scope.
type Candidate struct {
	Ref        int    // stamped data-agent-ref, used by the executor to act
	Text       string // canonical text the element exposes
	Context    string // nearest heading / card title, may be empty
	InViewport bool
	Disabled   bool
	DisabledBy string // which check tripped: disabled attr, aria-disabled, ...
}

// Kind classifies a resolution outcome.
type Kind int

const (
	Matched Kind = iota
	NotFound
	Ambiguous
	Disabled
)

// Preview is a short candidate description carried by ambiguous outcomes so
// the caller can disambiguate by contextual wording instead of retrying.
type Preview struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// Outcome is the result of resolving one target.
type Outcome struct {
	Kind     Kind
	Ref      int
	Count    int
	Previews []Preview
	Reason   string // disabled reason
}

// SearchStrings builds the ordered ladder of strings to try for a target:
// the full normalized text, word prefixes for long targets, and the
// whitespace-collapsed form for multi-word targets.
func SearchStrings(target string) []string {
	full := textnorm.Normalize(target)
	if full == "" {
		return nil
	}
	out := []string{full}
	if utf8.RuneCountInString(full) > prefixCutRunes {
		words := strings.Split(full, " ")
		for _, n := range []int{longPrefixWords, shortPrefixWords} {
			if len(words) > n {
				p := strings.Join(words[:n], " ")
				out = appendUnique(out, p)
			}
		}
	}
	if strings.Contains(full, " ") {
		out = appendUnique(out, textnorm.Collapse(full))
	}
	return out
}

// Resolve applies the precedence ladder: the first search string that yields
// at least one candidate decides the candidate set, then equality beats
// containment, context labels break ties for multi-word requests, and short
// under-specified requests surface as ambiguous rather than a blind pick.
func Resolve(target string, exact bool, cands []Candidate) Outcome {
	searches := SearchStrings(target)
	if len(searches) == 0 || len(cands) == 0 {
		return Outcome{Kind: NotFound}
	}
	for _, s := range searches {
		hits := matchAll(s, exact, cands)
		if len(hits) == 0 {
			continue
		}
		return pick(target, s, hits)
	}
	return Outcome{Kind: NotFound}
}

type hit struct {
	cand     Candidate
	equal    bool // candidate text equals the search string
	contains bool // candidate text contains the search string
}

func matchAll(search string, exact bool, cands []Candidate) []hit {
	var hits []hit
	for _, c := range cands {
		h, ok := matchOne(search, exact, c)
		if ok {
			hits = append(hits, h)
		}
	}
	return hits
}

func matchOne(search string, exact bool, c Candidate) (hit, bool) {
	ct := textnorm.Normalize(c.Text)
	if ct == "" {
		return hit{}, false
	}
	if exact {
		if ct == search {
			return hit{cand: c, equal: true, contains: true}, true
		}
		return hit{}, false
	}
	ls, lc := strings.ToLower(search), strings.ToLower(ct)
	if lc == ls {
		return hit{cand: c, equal: true, contains: true}, true
	}
	if strings.Contains(lc, ls) {
		return hit{cand: c, contains: true}, true
	}
	// Reverse containment: the request carries the candidate's label plus
	// extra words. Guarded so a stray short word does not swallow a long
	// multi-word request.
	if strings.Contains(ls, lc) && !strayWord(ct, search) {
		return hit{cand: c}, true
	}
	cs, cc := textnorm.Collapse(ls), textnorm.Collapse(lc)
	if utf8.RuneCountInString(cs) >= collapsedMinRunes && cc == cs {
		return hit{cand: c, equal: true, contains: true}, true
	}
	if utf8.RuneCountInString(cs) >= collapsedMinRunes && strings.Contains(cc, cs) {
		return hit{cand: c, contains: true}, true
	}
	if utf8.RuneCountInString(cc) >= collapsedMinReverseRunes && strings.Contains(cs, cc) && !strayWord(ct, search) {
		return hit{cand: c}, true
	}
	return hit{}, false
}

func strayWord(candText, search string) bool {
	if len(textnorm.Words(candText)) != 1 {
		return false
	}
	cr := utf8.RuneCountInString(textnorm.Collapse(candText))
	if cr > strayWordMaxRunes {
		return false
	}
	sr := utf8.RuneCountInString(textnorm.Collapse(search))
	return sr >= cr*strayRequestRatio
}

func pick(target, search string, hits []hit) Outcome {
	if len(hits) == 1 {
		return outcomeFor(hits[0].cand, len(hits))
	}

	var equals, strict []hit
	for _, h := range hits {
		if h.equal {
			equals = append(equals, h)
		}
		if h.equal || h.contains {
			strict = append(strict, h)
		}
	}
	if len(equals) == 1 {
		return outcomeFor(equals[0].cand, len(hits))
	}
	if len(strict) == 1 {
		return outcomeFor(strict[0].cand, len(hits))
	}

	// Multi-word requests may carry a contextual label (nearest heading or
	// card title); a unique context match resolves what the bare label alone
	// could not.
	if len(textnorm.Words(target)) > ambiguityWordLimit {
		if byCtx := filterByContext(target, hits); len(byCtx) == 1 {
			return outcomeFor(byCtx[0].cand, len(hits))
		}
		if len(strict) > 0 {
			return outcomeFor(strict[0].cand, len(hits))
		}
		return outcomeFor(hits[0].cand, len(hits))
	}

	return Outcome{
		Kind:     Ambiguous,
		Count:    len(hits),
		Previews: previews(hits),
	}
}

func filterByContext(target string, hits []hit) []hit {
	lt := strings.ToLower(textnorm.Normalize(target))
	var out []hit
	for _, h := range hits {
		ctx := strings.ToLower(textnorm.Normalize(h.cand.Context))
		if ctx != "" && strings.Contains(lt, ctx) {
			out = append(out, h)
		}
	}
	return out
}

func outcomeFor(c Candidate, count int) Outcome {
	if c.Disabled {
		reason := c.DisabledBy
		if reason == "" {
			reason = "element is disabled"
		}
		return Outcome{Kind: Disabled, Ref: c.Ref, Count: count, Reason: reason}
	}
	return Outcome{Kind: Matched, Ref: c.Ref, Count: count}
}

func previews(hits []hit) []Preview {
	n := len(hits)
	if n > maxPreviews {
		n = maxPreviews
	}
	out := make([]Preview, 0, n)
	for _, h := range hits[:n] {
		out = append(out, Preview{
			Text:    truncateRunes(textnorm.Normalize(h.cand.Text), previewMaxRunes),
			Context: truncateRunes(textnorm.Normalize(h.cand.Context), previewMaxRunes),
		})
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

func appendUnique(ss []string, s string) []string {
	for _, v := range ss {
		if v == s {
			return ss
		}
	}
	return append(ss, s)
}
