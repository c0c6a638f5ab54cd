// Package memory – query_expansion.go turns conversational queries into
// keyword lists for the lexical sub-retriever. CJK text has no word
// separators, so CJK runs are split into unigrams plus adjacent bigrams.
package memory

import (
	"strings"
	"unicode"
)

// ExpandedQuery is the result of ExpandQuery.
type ExpandedQuery struct {
	Original string
	Keywords []string
	Expanded string
}

// ExpandQuery normalizes a query and extracts its keywords.
// Expanded is "original OR kw1 OR kw2 ..." or just the original text when no
// keyword survives filtering.
func ExpandQuery(query string) ExpandedQuery {
	original := strings.ToLower(strings.TrimSpace(query))
	if original == "" {
		return ExpandedQuery{}
	}

	keywords := extractKeywords(original)
	expanded := original
	if len(keywords) > 0 {
		expanded = original + " OR " + strings.Join(keywords, " OR ")
	}
	return ExpandedQuery{Original: original, Keywords: keywords, Expanded: expanded}
}

// extractKeywords tokenizes a lowercased query and filters the tokens.
func extractKeywords(query string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, tok := range tokenizeQuery(query) {
		if !isValidKeyword(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}
	return keywords
}

// tokenizeQuery splits on whitespace and punctuation. '_' and '-' are kept
// inside words ("e-mail", "snake_case") and trimmed from their ends.
func tokenizeQuery(s string) []string {
	var tokens []string
	var word strings.Builder
	var cjk []rune

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		w := strings.Trim(word.String(), "-_")
		if w != "" {
			tokens = append(tokens, w)
		}
		word.Reset()
	}
	flushCJK := func() {
		tokens = append(tokens, cjkGrams(cjk)...)
		cjk = cjk[:0]
	}

	for _, r := range s {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_' || r == '-':
			flushCJK()
			word.WriteRune(r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

// cjkGrams emits each rune followed by the bigram it starts, so every
// adjacent pair of the run is a candidate keyword.
func cjkGrams(run []rune) []string {
	var out []string
	for i, r := range run {
		out = append(out, string(r))
		if i+1 < len(run) {
			out = append(out, string([]rune{r, run[i+1]}))
		}
	}
	return out
}

// isValidKeyword rejects stop words, short ASCII words, numbers and
// punctuation-only tokens.
func isValidKeyword(w string) bool {
	if w == "" {
		return false
	}
	if stopWords[w] || cjkStopWords[w] {
		return false
	}

	asciiAlpha, allDigits, allPunct := true, true, true
	for _, r := range w {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			asciiAlpha = false
		}
		if !unicode.IsDigit(r) {
			allDigits = false
		}
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			allPunct = false
		}
	}
	if asciiAlpha && len(w) < 3 {
		return false
	}
	return !allDigits && !allPunct
}

// isCJK reports whether r belongs to a script written without spaces.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// spaceCJK surrounds every CJK rune with spaces so unicode61 indexes each
// character as its own token and bigram phrases match adjacent characters.
func spaceCJK(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/2)
	prevCJK := false
	for _, r := range s {
		c := isCJK(r)
		if c || prevCJK {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prevCJK = c
	}
	return strings.TrimSpace(b.String())
}

// buildFTSMatch converts an expanded query into a safe FTS5 MATCH expression.
// Every OR-separated term becomes a quoted phrase.
func buildFTSMatch(expanded string) string {
	var parts []string
	seen := make(map[string]bool)
	for _, term := range strings.Split(expanded, " OR ") {
		term = sanitizeFTS5Term(term)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		parts = append(parts, `"`+term+`"`)
	}
	return strings.Join(parts, " OR ")
}

// sanitizeFTS5Term strips FTS5 operators from a term.
func sanitizeFTS5Term(term string) string {
	term = strings.Map(func(r rune) rune {
		switch r {
		case '"', '(', ')', '*', '^', ':', '{', '}', '+':
			return ' '
		}
		return r
	}, term)
	return strings.Join(strings.Fields(spaceCJK(term)), " ")
}

// likeTerms returns the plain terms of an expanded query for the LIKE
// fallback used when FTS5 is not compiled in.
func likeTerms(expanded string) []string {
	q := ExpandQuery(strings.SplitN(expanded, " OR ", 2)[0])
	if len(q.Keywords) > 0 {
		return q.Keywords
	}
	if q.Original != "" {
		return []string{q.Original}
	}
	return nil
}

// cjkStopWords holds Chinese function words, both unigrams and bigrams.
var cjkStopWords = map[string]bool{
	"的": true, "了": true, "是": true, "在": true, "和": true, "与": true,
	"及": true, "或": true, "吗": true, "呢": true, "吧": true, "啊": true,
	"着": true, "被": true, "把": true, "也": true, "都": true, "就": true,
	"地": true, "得": true, "我": true, "你": true, "他": true, "她": true,
	"它": true, "这": true, "那": true, "有": true, "不": true, "个": true,
	"之": true, "前": true, "后": true, "么": true, "哪": true, "谁": true,
	"の": true, "は": true, "が": true, "を": true,
	"我们": true, "你们": true, "他们": true, "她们": true, "它们": true,
	"这个": true, "那个": true, "这些": true, "那些": true, "之前": true,
	"之后": true, "以前": true, "以后": true, "什么": true, "怎么": true,
	"怎样": true, "为什": true, "为什么": true, "因为": true, "所以": true,
	"如果": true, "但是": true, "然后": true, "已经": true, "还是": true,
	"就是": true, "一个": true, "一些": true, "没有": true, "可以": true,
	"自己": true, "关于": true, "现在": true, "时候": true, "这样": true,
	"那样": true, "哪个": true, "哪些": true,
}

// stopWords holds English and Portuguese function words.
var stopWords = map[string]bool{
	// English
	"a": true, "about": true, "above": true, "after": true, "again": true,
	"all": true, "also": true, "am": true, "an": true, "and": true,
	"any": true, "are": true, "as": true, "at": true, "be": true,
	"because": true, "been": true, "before": true, "being": true,
	"below": true, "between": true, "both": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true,
	"does": true, "doing": true, "done": true, "down": true, "during": true,
	"each": true, "else": true, "ever": true, "few": true, "for": true,
	"from": true, "further": true, "get": true, "got": true, "had": true,
	"has": true, "have": true, "having": true, "he": true, "her": true,
	"here": true, "hers": true, "herself": true, "him": true,
	"himself": true, "his": true, "how": true, "i": true, "if": true,
	"in": true, "into": true, "is": true, "it": true, "its": true,
	"itself": true, "just": true, "know": true, "last": true, "let": true,
	"like": true, "me": true, "more": true, "most": true, "much": true,
	"my": true, "myself": true, "no": true, "nor": true, "not": true,
	"now": true, "of": true, "off": true, "on": true, "once": true,
	"only": true, "or": true, "other": true, "our": true, "ours": true,
	"ourselves": true, "out": true, "over": true, "own": true,
	"please": true, "remember": true, "same": true, "said": true,
	"say": true, "she": true, "should": true, "so": true, "some": true,
	"something": true, "stuff": true, "such": true, "tell": true,
	"than": true, "that": true, "the": true, "their": true,
	"theirs": true, "them": true, "themselves": true, "then": true,
	"there": true, "these": true, "they": true, "thing": true,
	"things": true, "this": true, "those": true, "through": true,
	"to": true, "too": true, "under": true, "until": true, "up": true,
	"us": true, "very": true, "was": true, "we": true, "were": true,
	"what": true, "when": true, "where": true, "which": true,
	"while": true, "who": true, "whom": true, "why": true, "will": true,
	"with": true, "would": true, "yesterday": true, "you": true,
	"your": true, "yours": true, "yourself": true, "yourselves": true,
	"earlier": true, "previously": true, "recall": true, "recent": true,

	// Portuguese
	"ao": true, "aos": true, "aquela": true, "aquele": true, "aquilo": true,
	"até": true, "com": true, "como": true, "da": true,
	"das": true, "de": true, "dela": true, "dele": true,
	"dos": true, "ela": true, "ele": true, "eles": true, "em": true,
	"entre": true, "era": true, "essa": true, "esse": true, "esta": true,
	"este": true, "eu": true, "foi": true, "isso": true, "isto": true,
	"lhe": true, "mais": true, "mas": true, "mesmo": true, "meu": true,
	"minha": true, "muito": true, "na": true, "nas": true, "nem": true,
	"nos": true, "nós": true, "num": true, "numa": true,
	"não": true, "os": true, "ou": true, "para": true, "pela": true,
	"pelo": true, "por": true, "qual": true, "quando": true, "que": true,
	"quem": true, "se": true, "sem": true, "ser": true, "seu": true,
	"sobre": true, "sua": true, "são": true, "também": true, "te": true,
	"tem": true, "um": true, "uma": true, "você": true, "já": true,
}
