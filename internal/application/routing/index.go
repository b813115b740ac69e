package routing

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/longregen/toolrouter/internal/domain/catalog"
	"github.com/longregen/toolrouter/internal/domain/models"
)

type indexedDoc struct {
	tool       models.UnifiedTool
	normalized string
	nameTokens []string
	descTokens []string
	descLower  string
}

// Index is an immutable search index over a catalog snapshot. It is rebuilt
// wholesale whenever the catalog changes.
type Index struct {
	docs       []indexedDoc
	byID       map[string]int
	byCategory map[string][]int
	byTag      map[string][]int
	bySource   map[string][]int
}

func BuildIndex(tools []models.UnifiedTool) *Index {
	ix := &Index{
		docs:       make([]indexedDoc, 0, len(tools)),
		byID:       make(map[string]int, len(tools)),
		byCategory: make(map[string][]int),
		byTag:      make(map[string][]int),
		bySource:   make(map[string][]int),
	}
	for _, t := range tools {
		if _, dup := ix.byID[t.ID]; dup {
			continue
		}
		i := len(ix.docs)
		nameTokens := catalog.Tokenize(t.Name + " " + t.Category)
		for _, tag := range t.Tags {
			nameTokens = append(nameTokens, catalog.Tokenize(tag)...)
		}
		ix.docs = append(ix.docs, indexedDoc{
			tool:       t,
			normalized: catalog.NormalizeName(t.Name),
			nameTokens: nameTokens,
			descTokens: catalog.Tokenize(t.Description),
			descLower:  strings.ToLower(t.Description),
		})
		ix.byID[t.ID] = i
		ix.byCategory[t.Category] = append(ix.byCategory[t.Category], i)
		ix.bySource[t.Source] = append(ix.bySource[t.Source], i)
		for _, tag := range t.Tags {
			ix.byTag[tag] = append(ix.byTag[tag], i)
		}
	}
	return ix
}

func (ix *Index) Len() int {
	return len(ix.docs)
}

func (ix *Index) Get(id string) (models.UnifiedTool, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return models.UnifiedTool{}, false
	}
	return ix.docs[i].tool, true
}

func (ix *Index) collect(ids []int) []models.UnifiedTool {
	out := make([]models.UnifiedTool, 0, len(ids))
	for _, i := range ids {
		out = append(out, ix.docs[i].tool)
	}
	return out
}

func (ix *Index) ByCategory(category string) []models.UnifiedTool {
	return ix.collect(ix.byCategory[category])
}

func (ix *Index) ByTag(tag string) []models.UnifiedTool {
	return ix.collect(ix.byTag[tag])
}

func (ix *Index) BySource(source string) []models.UnifiedTool {
	return ix.collect(ix.bySource[source])
}

// Categories returns every category with its tool count.
func (ix *Index) Categories() map[string]int {
	out := make(map[string]int, len(ix.byCategory))
	for c, ids := range ix.byCategory {
		out[c] = len(ids)
	}
	return out
}

// TextScore rates how well the tool with the given id matches query, in
// [0,1]. An empty query matches everything fully.
func (ix *Index) TextScore(id, query string) float64 {
	i, ok := ix.byID[id]
	if !ok {
		return 0
	}
	return textScore(&ix.docs[i], query)
}

func textScore(doc *indexedDoc, query string) float64 {
	q := catalog.NormalizeName(query)
	if q == "" {
		return 1
	}
	if doc.normalized == q {
		return 1
	}

	var best float64
	nameLen := utf8.RuneCountInString(doc.normalized)
	qLen := utf8.RuneCountInString(q)
	if nameLen > 0 && strings.Contains(doc.normalized, q) {
		best = 0.75 + 0.15*float64(qLen)/float64(nameLen)
	} else if nameLen > 0 && fuzzy.MatchNormalizedFold(q, doc.normalized) {
		// characters of the query appear in order in the name
		rank := fuzzy.RankMatchNormalizedFold(q, doc.normalized)
		closeness := 1 - float64(rank)/float64(max(nameLen, 1))
		best = 0.4 + 0.3*clamp01(closeness)
	}

	qTokens := catalog.Tokenize(query)
	if n := len(qTokens); n > 0 {
		best = max(best, 0.7*tokenFraction(qTokens, doc.nameTokens))
		best = max(best, 0.5*tokenFraction(qTokens, doc.descTokens))
	}
	if best == 0 && doc.descLower != "" && fuzzy.MatchNormalizedFold(strings.ToLower(strings.TrimSpace(query)), doc.descLower) {
		best = 0.2
	}
	return best
}

// tokenFraction is the share of query tokens found among tokens, allowing
// prefix matches of at least three characters.
func tokenFraction(query, tokens []string) float64 {
	hit := 0
	for _, q := range query {
		for _, t := range tokens {
			if t == q || (len(q) >= 3 && strings.HasPrefix(t, q)) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(query))
}

// Similar returns up to n tools resembling the tool with the given id, by
// shared category, tags and vocabulary. The tool itself is excluded.
func (ix *Index) Similar(id string, n int) []models.UnifiedTool {
	i, ok := ix.byID[id]
	if !ok || n <= 0 {
		return nil
	}
	ref := &ix.docs[i]

	type scored struct {
		idx   int
		score float64
	}
	var candidates []scored
	for j := range ix.docs {
		if j == i {
			continue
		}
		if s := similarity(ref, &ix.docs[j]); s > 0 {
			candidates = append(candidates, scored{j, s})
		}
	}
	slices.SortFunc(candidates, func(a, b scored) int {
		return cmp.Or(cmp.Compare(b.score, a.score), cmp.Compare(ix.docs[a.idx].tool.ID, ix.docs[b.idx].tool.ID))
	})

	out := make([]models.UnifiedTool, 0, min(n, len(candidates)))
	for _, c := range candidates[:min(n, len(candidates))] {
		out = append(out, ix.docs[c.idx].tool)
	}
	return out
}

func similarity(a, b *indexedDoc) float64 {
	var s float64
	if a.tool.Category != "" && a.tool.Category == b.tool.Category {
		s += 0.4
	}
	if a.normalized == b.normalized {
		s += 0.3
	} else {
		s += 0.3 * jaccard(a.nameTokens, b.nameTokens)
	}
	s += 0.3 * jaccard(a.descTokens, b.descTokens)
	return s
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
