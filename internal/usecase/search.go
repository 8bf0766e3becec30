package usecase

import (
	"strings"
	"unicode"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// filterSearch applies the free-text filter over name, description and
// tags. Returns the surviving items and how many records matched at all.
func filterSearch(items []*scored, opts QueryOptions) ([]*scored, int) {
	terms := splitTerms(opts.Search)
	if len(terms) == 0 {
		return items, 0
	}

	out := items[:0]
	for _, item := range items {
		haystack := strings.ToLower(
			item.rec.Name() + " " + item.rec.Description() + " " + strings.Join(item.rec.Tags(), " "))

		matched := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
			}
		}

		if opts.SearchMode == MatchAll && matched < len(terms) {
			continue
		}
		if matched == 0 {
			continue
		}

		item.matchCount = matched
		item.searched = true
		out = append(out, item)
	}
	return out, len(out)
}

func splitTerms(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// matcherSpec binds one domain matcher to the record values it inspects.
type matcherSpec struct {
	requested   []string
	values      func(rec domain.Record) []string
	rewardOrder bool // order preservation bonus
}

// filterDomainMatchers applies the ingredient/equipment/exercise/cuisine/
// model matchers. Each active matcher attaches a normalized score and an
// absolute match count; ingredient and exercise matchers reward preserving
// the requested order.
func filterDomainMatchers(items []*scored, opts QueryOptions) []*scored {
	specs := []matcherSpec{
		{requested: opts.Ingredients, values: ingredientNames, rewardOrder: true},
		{requested: opts.IngredientDIDs, values: ingredientRefs, rewardOrder: true},
		{requested: opts.Equipment, values: listField("equipmentRequired")},
		{requested: opts.ExerciseTypes, values: scalarField("exerciseType"), rewardOrder: true},
		{requested: opts.Cuisines, values: scalarField("cuisine")},
		{requested: opts.SupportedModels, values: listField("supportedModels")},
	}

	active := specs[:0]
	for _, spec := range specs {
		if len(spec.requested) > 0 {
			active = append(active, spec)
		}
	}
	if len(active) == 0 {
		return items
	}

	out := items[:0]
	for _, item := range items {
		var totalScore float64
		totalCount := 0
		keep := true

		for _, spec := range active {
			score, count, ok := spec.match(item.rec, opts.MatcherMode)
			if !ok {
				keep = false
				break
			}
			totalScore += score
			totalCount += count
		}
		if !keep {
			continue
		}

		item.matcherScore = totalScore / float64(len(active))
		item.matcherCount = totalCount
		item.matched = true
		out = append(out, item)
	}
	return out
}

func (m matcherSpec) match(rec domain.Record, mode MatchMode) (float64, int, bool) {
	values := m.values(rec)
	lowered := make([]string, len(values))
	for i, v := range values {
		lowered[i] = strings.ToLower(v)
	}

	matched := 0
	positions := make([]int, 0, len(m.requested))
	for _, want := range m.requested {
		want = strings.ToLower(strings.TrimSpace(want))
		pos := -1
		for i, have := range lowered {
			if have == want || strings.Contains(have, want) {
				pos = i
				break
			}
		}
		if pos >= 0 {
			matched++
			positions = append(positions, pos)
		}
	}

	if mode == MatchAll && matched < len(m.requested) {
		return 0, 0, false
	}
	if matched == 0 {
		return 0, 0, false
	}

	score := float64(matched) / float64(len(m.requested))
	if m.rewardOrder && matched > 1 && inOrder(positions) {
		score += 0.1
	}
	return score, matched, true
}

func inOrder(positions []int) bool {
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			return false
		}
	}
	return true
}

// ingredientNames collects every ingredient name surface a recipe exposes:
// the flat ingredientItems list and the name of each structured entry.
func ingredientNames(rec domain.Record) []string {
	names := ledgerdex.AsStringSlice(rec.Field("ingredientItems"))
	if entries, ok := rec.Field("ingredients").([]any); ok {
		for _, e := range entries {
			if m, ok := e.(map[string]any); ok {
				if name := ledgerdex.AsString(m["name"]); name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return names
}

func ingredientRefs(rec domain.Record) []string {
	refs := ledgerdex.AsStringSlice(rec.Field("ingredientRefs"))
	if entries, ok := rec.Field("ingredients").([]any); ok {
		for _, e := range entries {
			if m, ok := e.(map[string]any); ok {
				if did := ledgerdex.AsString(m["did"]); did != "" {
					refs = append(refs, did)
				}
			}
		}
	}
	return refs
}

func listField(name string) func(rec domain.Record) []string {
	return func(rec domain.Record) []string {
		return ledgerdex.AsStringSlice(rec.Field(name))
	}
}

func scalarField(name string) func(rec domain.Record) []string {
	return func(rec domain.Record) []string {
		if v := ledgerdex.AsString(rec.Field(name)); v != "" {
			return []string{v}
		}
		return nil
	}
}

// Fuzzy similarity grades, best first. A Levenshtein fallback scores below
// every structural grade so e.g. a prefix hit always outranks a typo hit.
const (
	gradeExact        = 1.0
	gradePrefix       = 0.9
	gradeSuffix       = 0.8
	gradeWordBoundary = 0.7
	gradeSubstring    = 0.6
	fuzzyFloor        = 0.5
)

func filterFuzzy(items []*scored, opts QueryOptions) []*scored {
	if len(opts.Fuzzy) == 0 {
		return items
	}

	out := items[:0]
	for _, item := range items {
		var total float64
		keep := true
		for _, f := range opts.Fuzzy {
			have := strings.ToLower(ledgerdex.AsString(item.rec.Field(f.Field)))
			want := strings.ToLower(strings.TrimSpace(f.Value))
			score, ok := fuzzyGrade(have, want)
			if !ok {
				keep = false
				break
			}
			total += score
		}
		if !keep {
			continue
		}

		item.fuzzyScore = total / float64(len(opts.Fuzzy))
		item.fuzzed = true
		out = append(out, item)
	}
	return out
}

func fuzzyGrade(have, want string) (float64, bool) {
	if want == "" || have == "" {
		return 0, false
	}
	switch {
	case have == want:
		return gradeExact, true
	case strings.HasPrefix(have, want):
		return gradePrefix, true
	case strings.HasSuffix(have, want):
		return gradeSuffix, true
	case containsWord(have, want):
		return gradeWordBoundary, true
	case strings.Contains(have, want):
		return gradeSubstring, true
	}

	longest := len(have)
	if len(want) > longest {
		longest = len(want)
	}
	sim := 1 - float64(levenshtein(have, want))/float64(longest)
	if sim < fuzzyFloor {
		return 0, false
	}
	// scaled under the substring grade
	return sim * gradeSubstring, true
}

func containsWord(haystack, word string) bool {
	start := 0
	for {
		i := strings.Index(haystack[start:], word)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || isBoundary(rune(haystack[i-1]))
		afterIdx := i + len(word)
		after := afterIdx >= len(haystack) || isBoundary(rune(haystack[afterIdx]))
		if before && after {
			return true
		}
		start = i + 1
		if start >= len(haystack) {
			return false
		}
	}
}

func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
