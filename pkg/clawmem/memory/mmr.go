// Package memory – mmr.go implements Maximal Marginal Relevance re-ranking.
package memory

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMMRLambda balances relevance (1) against diversity (0).
const DefaultMMRLambda = 0.7

const mmrTieEpsilon = 1e-12

// MMRConfig configures Maximal Marginal Relevance for search diversification.
type MMRConfig struct {
	Enabled bool    `yaml:"enabled"`
	Lambda  float64 `yaml:"lambda"`
}

// ApplyMMR greedily reorders results by
// lambda*normalizedRelevance - (1-lambda)*maxJaccardToSelected.
// Relevance is min-max normalized over the pool and lambda is clamped to
// [0, 1]. Scores are not modified.
func ApplyMMR(results []SearchResult, cfg MMRConfig) []SearchResult {
	if !cfg.Enabled || len(results) <= 1 {
		return results
	}

	// 0 is pure diversity; the 0.7 default is applied by configuration.
	lambda := min(max(cfg.Lambda, 0), 1)
	if lambda == 1 {
		out := append([]SearchResult(nil), results...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return out
	}

	minScore, maxScore := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		minScore = min(minScore, r.Score)
		maxScore = max(maxScore, r.Score)
	}
	spread := maxScore - minScore
	normalize := func(s float64) float64 {
		if spread == 0 {
			return 1.0
		}
		return (s - minScore) / spread
	}

	tokenCache := make(map[string]map[string]bool, len(results))
	tokens := func(r SearchResult) map[string]bool {
		key := r.ID
		if key == "" {
			key = r.Text
		}
		if cached, ok := tokenCache[key]; ok {
			return cached
		}
		t := tokenSet(r.Text)
		tokenCache[key] = t
		return t
	}

	remaining := append([]SearchResult(nil), results...)
	selected := make([]SearchResult, 0, len(results))

	for len(remaining) > 0 {
		bestIdx := -1
		var bestMMR float64
		for i, cand := range remaining {
			maxSim := 0.0
			candTokens := tokens(cand)
			for _, sel := range selected {
				if sim := jaccardSimilarity(candTokens, tokens(sel)); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*normalize(cand.Score) - (1-lambda)*maxSim

			switch {
			case bestIdx < 0 || score > bestMMR+mmrTieEpsilon:
				bestIdx, bestMMR = i, score
			case score > bestMMR-mmrTieEpsilon && cand.Score > remaining[bestIdx].Score:
				bestIdx, bestMMR = i, score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// tokenSet returns the lowercase alphanumeric tokens of text.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = true
	}
	return set
}

// jaccardSimilarity computes Jaccard similarity between two token sets.
func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
