package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// SearchOptions tunes a hybrid search.
type SearchOptions struct {
	MaxResults    int
	MinScore      float64
	VectorWeight  float64
	TextWeight    float64
	TemporalDecay TemporalDecayConfig
	MMR           MMRConfig
}

// DefaultSearchOptions returns 6 results, 0.1 minimum score and a 0.7/0.3
// vector/text split. Decay and MMR are disabled; MMR carries the default
// lambda so enabling it alone is enough.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		MaxResults:   6,
		MinScore:     0.1,
		VectorWeight: 0.7,
		TextWeight:   0.3,
		MMR:          MMRConfig{Lambda: DefaultMMRLambda},
	}
}

// SearchHybrid runs the lexical and vector retrievers concurrently, merges
// their hits by chunk id, then applies decay, MMR, the score floor and the
// result cap. A failing vector side degrades to lexical-only results.
func (m *Manager) SearchHybrid(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchOptions().MaxResults
	}
	vw, tw := opts.VectorWeight, opts.TextWeight
	if vw <= 0 && tw <= 0 {
		def := DefaultSearchOptions()
		vw, tw = def.VectorWeight, def.TextWeight
	}

	expanded := ExpandQuery(query)
	model := m.provider.Model()
	fetch := maxResults * 2

	var (
		lexical, vector []SearchResult
		lexErr, vecErr  error
		vecTried        bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, lexErr = m.store.SearchFTS(gctx, expanded.Expanded, model, fetch)
		if lexErr != nil {
			m.logger.Warn("lexical search failed", "error", lexErr)
		}
		return nil
	})
	if !IsNullProvider(m.provider) && vw > 0 {
		vecTried = true
		g.Go(func() error {
			vec, err := m.provider.EmbedQuery(gctx, query)
			if err != nil {
				vecErr = providerErr(m.provider.ID(), err)
				m.logger.Warn("query embedding failed, using lexical results only", "error", vecErr)
				return nil
			}
			if len(vec) == 0 {
				return nil
			}
			vector, vecErr = m.store.SearchVector(gctx, vec, model, fetch)
			if vecErr != nil {
				m.logger.Warn("vector search failed", "error", vecErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lexErr != nil && (!vecTried || vecErr != nil) {
		err := lexErr
		if vecErr != nil {
			err = errors.Join(lexErr, vecErr)
		}
		m.recordError(err)
		return nil, err
	}

	results := mergeHybrid(vector, lexical, vw, tw)
	sortByScore(results)
	if limit := maxResults * 5; len(results) > limit {
		results = results[:limit]
	}

	if opts.TemporalDecay.Enabled {
		results = ApplyTemporalDecay(results, opts.TemporalDecay, m.root, m.sessionModTimes(ctx, results), m.now())
	}
	if opts.MMR.Enabled {
		results = ApplyMMR(results, opts.MMR)
	} else {
		sortByScore(results)
	}

	out := make([]SearchResult, 0, maxResults)
	for _, r := range results {
		if r.Score < opts.MinScore {
			continue
		}
		out = append(out, r)
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

// mergeHybrid combines hits by chunk id. A vector hit starts at
// vector*vw; a lexical hit adds fts*tw.
func mergeHybrid(vector, lexical []SearchResult, vw, tw float64) []SearchResult {
	byID := make(map[string]int, len(vector)+len(lexical))
	merged := make([]SearchResult, 0, len(vector)+len(lexical))

	for _, r := range vector {
		if _, dup := byID[r.ID]; dup {
			continue
		}
		r.Score *= vw
		byID[r.ID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range lexical {
		if i, ok := byID[r.ID]; ok {
			merged[i].Score += r.Score * tw
			continue
		}
		r.Score *= tw
		byID[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

func sortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

// sessionModTimes returns the recorded mtimes of the session transcripts in
// results. A lookup failure only disables decay for those results.
func (m *Manager) sessionModTimes(ctx context.Context, results []SearchResult) map[string]time.Time {
	if !slices.ContainsFunc(results, func(r SearchResult) bool { return r.Source == SourceSession }) {
		return nil
	}
	files, err := m.store.ListFiles(ctx, SourceSession)
	if err != nil {
		m.logger.Warn("session mtimes unavailable for decay", "error", err)
		return nil
	}
	times := make(map[string]time.Time, len(files))
	for _, f := range files {
		times[f.Path] = f.ModTime
	}
	return times
}
