// Full-text search over document text.
//
// The text index is an inverted map from normalised token to the set of
// keys whose documents contain that token. Tokenisation lowercases, splits
// on any non-alphanumeric code point, and drops tokens shorter than two
// code points; there is no stemming. Search intersects the posting lists
// of every query token, so results contain all tokens (AND semantics).
//
// A bloom filter over indexed tokens fronts the posting map: a query
// token the filter has never seen cannot match, letting Search return
// empty without touching the map. The filter only ever accumulates
// (removals leave it untouched) so it can over-admit but never lie about
// absence.
package quire

import (
	"strings"
	"unicode"
	"unicode/utf8"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// minTokenLen is the smallest token length, in code points, that gets
// indexed or searched.
const minTokenLen = 2

// textIndex is the inverted full-text index.
type textIndex[K comparable] struct {
	postings cmap.ConcurrentMap[string, *keySet[K]]
	filter   *bloom
}

func newTextIndex[K comparable](alg int) *textIndex[K] {
	return &textIndex[K]{
		postings: cmap.NewWithCustomShardingFunction[string, *keySet[K]](shardFunc[string](alg)),
		filter:   newBloom(),
	}
}

// update moves key between posting lists to reflect a document text
// transition. Only the symmetric difference of the two token sets is
// touched.
func (ti *textIndex[K]) update(key K, oldText, newText string) {
	oldTokens := tokenSet(oldText)
	newTokens := tokenSet(newText)

	for tok := range oldTokens {
		if _, keep := newTokens[tok]; !keep {
			setRemove(ti.postings, tok, key)
		}
	}
	for tok := range newTokens {
		if _, had := oldTokens[tok]; !had {
			setAdd(ti.postings, tok, key)
			ti.filter.add(tok)
		}
	}
}

// search returns the keys whose documents contain every query token.
func (ti *textIndex[K]) search(query string) []K {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	// Collect the posting snapshot per token, smallest list first so the
	// intersection narrows as early as possible.
	lists := make([][]K, 0, len(tokens))
	for _, tok := range tokens {
		if !ti.filter.contains(tok) {
			return nil
		}
		set, ok := ti.postings.Get(tok)
		if !ok {
			return nil
		}
		lists = append(lists, set.keys())
	}

	smallest := 0
	for i, l := range lists {
		if len(l) < len(lists[smallest]) {
			smallest = i
		}
	}
	lists[0], lists[smallest] = lists[smallest], lists[0]

	candidates := make(map[K]struct{}, len(lists[0]))
	for _, k := range lists[0] {
		candidates[k] = struct{}{}
	}
	for _, list := range lists[1:] {
		present := make(map[K]struct{}, len(list))
		for _, k := range list {
			present[k] = struct{}{}
		}
		for k := range candidates {
			if _, ok := present[k]; !ok {
				delete(candidates, k)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
	}

	out := make([]K, 0, len(candidates))
	for k := range candidates {
		out = append(out, k)
	}
	return out
}

// Search returns every document whose text contains all tokens of the
// query. With search disabled, or an empty query after tokenisation, the
// result is empty.
func (ds *Datastore[K, D]) Search(query string) []D {
	if ds.fts == nil {
		return nil
	}
	return ds.resolve(ds.fts.search(query))
}

// tokenize normalises text into its unique index tokens.
func tokenize(text string) []string {
	set := tokenSet(text)
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	return out
}

// tokenSet is tokenize without the slice materialisation, for diffing.
func tokenSet(text string) map[string]struct{} {
	if text == "" {
		return nil
	}

	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var set map[string]struct{}
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenLen {
			continue
		}
		if set == nil {
			set = make(map[string]struct{}, len(fields))
		}
		set[f] = struct{}{}
	}
	return set
}
