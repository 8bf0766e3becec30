package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/access"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// MatchMode selects how multi-valued filters combine.
type MatchMode string

const (
	MatchAll MatchMode = "and"
	MatchAny MatchMode = "or"
)

func ParseMatchMode(s string) MatchMode {
	if strings.EqualFold(s, "and") || strings.EqualFold(s, "all") {
		return MatchAll
	}
	return MatchAny
}

// FuzzyFilter matches one named field against a value with graded
// similarity.
type FuzzyFilter struct {
	Field string
	Value string
}

// ExactFilter matches a dot-separated field path for equality.
type ExactFilter struct {
	Path  string
	Value string
}

// QueryOptions is the caller-facing filter/sort/page/resolve specification.
// Zero values mean "not requested".
type QueryOptions struct {
	CreatorHandle string
	CreatorDID    string
	RecordType    string
	Source        string
	DateFrom      time.Time
	DateTo        time.Time

	Tags    []string
	TagMode MatchMode

	Search     string
	SearchMode MatchMode

	Ingredients     []string
	IngredientDIDs  []string
	Equipment       []string
	ExerciseTypes   []string
	Cuisines        []string
	SupportedModels []string
	MatcherMode     MatchMode

	Exact []ExactFilter
	Fuzzy []FuzzyFilter

	CollapseDuplicates bool

	SortBy   string
	SortDesc bool

	Page     int
	PageSize int

	TagSummaryMode bool

	ResolveDepth     int
	ResolveNamesOnly bool

	ForceRefresh bool
}

// TagCount is one bucket of the tag-frequency histogram.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// QueryResult is the caller-facing query contract.
type QueryResult struct {
	Records          []map[string]any `json:"records"`
	TotalRecords     int              `json:"totalRecords"`
	CurrentPage      int              `json:"currentPage"`
	TotalPages       int              `json:"totalPages"`
	SearchResults    int              `json:"searchResults"`
	IndexingProgress float64          `json:"indexingProgress"`
	TagSummary       []TagCount       `json:"tagSummary,omitempty"`
}

// scored carries a record through the pipeline together with the ranking
// signals individual stages attach.
type scored struct {
	rec domain.Record

	tagScore     float64
	tagScored    bool
	matchCount   int
	searched     bool
	matcherScore float64
	matcherCount int
	matched      bool
	fuzzyScore   float64
	fuzzed       bool
}

// ProgressReporter is the scheduler-facing slice the engine reads for the
// indexingProgress surface.
type ProgressReporter interface {
	Progress(ctx context.Context) float64
}

// QueryEngine executes filter/sort/paginate/resolve specifications against
// the records cache.
type QueryEngine struct {
	cache     *RecordsCache
	access    *access.Evaluator
	progress  ProgressReporter
	nutrition *NutritionEngine
}

func NewQueryEngine(cache *RecordsCache, evaluator *access.Evaluator, progress ProgressReporter) *QueryEngine {
	return &QueryEngine{
		cache:     cache,
		access:    evaluator,
		progress:  progress,
		nutrition: NewNutritionEngine(),
	}
}

// Query runs the full pipeline. Malformed parameters degrade with a warning
// instead of failing the request.
func (q *QueryEngine) Query(ctx context.Context, opts QueryOptions, requester access.Identity) (QueryResult, error) {
	recs, err := q.cache.Get(ctx, opts.ForceRefresh)
	if err != nil {
		return QueryResult{}, err
	}

	items := make([]*scored, 0, len(recs))
	for i := range recs {
		items = append(items, &scored{rec: recs[i]})
	}

	items = filterBasics(items, opts)
	items = filterTags(items, opts)
	var searchMatches int
	items, searchMatches = filterSearch(items, opts)
	items = filterDomainMatchers(items, opts)
	items = filterExact(items, opts)
	items = filterFuzzy(items, opts)
	items = q.filterAccess(ctx, items, requester)

	if opts.TagSummaryMode {
		return q.tagSummary(ctx, items, opts), nil
	}

	sortItems(items, opts)
	if opts.CollapseDuplicates {
		items = collapseByName(items)
	}

	total := len(items)
	page, pages, window := paginate(items, opts.Page, opts.PageSize)

	out := make([]map[string]any, 0, len(window))
	for _, item := range window {
		body := recordBody(item)
		if opts.ResolveDepth > 0 {
			body = q.resolveBody(body, opts.ResolveDepth, opts.ResolveNamesOnly)
		}
		out = append(out, body)
	}

	return QueryResult{
		Records:          out,
		TotalRecords:     total,
		CurrentPage:      page,
		TotalPages:       pages,
		SearchResults:    searchMatches,
		IndexingProgress: q.indexingProgress(ctx),
	}, nil
}

// Get returns one record by DID, access checked and optionally resolved.
func (q *QueryEngine) Get(ctx context.Context, did string, requester access.Identity, depth int, namesOnly bool) (map[string]any, error) {
	rec, ok := q.cache.Lookup(did)
	if !ok {
		if _, err := q.cache.Get(ctx, true); err != nil {
			return nil, err
		}
		if rec, ok = q.cache.Lookup(did); !ok {
			return nil, domain.NotFoundError{Resource: "record"}
		}
	}
	if !q.access.Classify(ctx, rec, requester) {
		return nil, domain.NotFoundError{Resource: "record"}
	}

	body := recordBody(&scored{rec: rec})
	if depth > 0 {
		body = q.resolveBody(body, depth, namesOnly)
	}
	return body, nil
}

// LookupRecord fetches a record from the snapshot without an access check.
// Callers that serve the result must have checked access already.
func (q *QueryEngine) LookupRecord(ctx context.Context, did string) (domain.Record, bool) {
	rec, ok := q.cache.Lookup(did)
	if !ok {
		if _, err := q.cache.Get(ctx, true); err != nil {
			return domain.Record{}, false
		}
		rec, ok = q.cache.Lookup(did)
	}
	return rec, ok
}

func (q *QueryEngine) indexingProgress(ctx context.Context) float64 {
	if q.progress == nil {
		return 0
	}
	return NormalizeProgress(q.progress.Progress(ctx))
}

func (q *QueryEngine) filterAccess(ctx context.Context, items []*scored, requester access.Identity) []*scored {
	if len(items) == 0 {
		return items
	}

	recs := make([]domain.Record, len(items))
	for i, item := range items {
		recs[i] = item.rec
	}
	visible := q.access.FilterVisible(ctx, recs, requester)

	allowed := make(map[string]bool, len(visible))
	for _, rec := range visible {
		allowed[rec.DID] = true
	}

	out := items[:0]
	for _, item := range items {
		if allowed[item.rec.DID] {
			out = append(out, item)
		}
	}
	return out
}

func filterBasics(items []*scored, opts QueryOptions) []*scored {
	out := items[:0]
	for _, item := range items {
		rec := item.rec
		if opts.CreatorHandle != "" && !strings.EqualFold(rec.Creator.Handle, opts.CreatorHandle) {
			continue
		}
		if opts.CreatorDID != "" && rec.Creator.DID != opts.CreatorDID {
			continue
		}
		if opts.RecordType != "" && !strings.EqualFold(rec.RecordType, opts.RecordType) {
			continue
		}
		if opts.Source != "" && !strings.EqualFold(ledgerdex.AsString(rec.Field("source")), opts.Source) {
			continue
		}
		if !opts.DateFrom.IsZero() && rec.IndexedAt.Before(opts.DateFrom) {
			continue
		}
		if !opts.DateTo.IsZero() && rec.IndexedAt.After(opts.DateTo) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func filterTags(items []*scored, opts QueryOptions) []*scored {
	if len(opts.Tags) == 0 {
		return items
	}

	requested := make([]string, 0, len(opts.Tags))
	for _, t := range opts.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			requested = append(requested, t)
		}
	}
	if len(requested) == 0 {
		return items
	}

	out := items[:0]
	for _, item := range items {
		have := map[string]bool{}
		for _, t := range item.rec.Tags() {
			have[strings.ToLower(t)] = true
		}

		matched := 0
		for _, t := range requested {
			if have[t] {
				matched++
			}
		}

		if opts.TagMode == MatchAll && matched < len(requested) {
			continue
		}
		if matched == 0 {
			continue
		}

		item.tagScore = float64(matched) / float64(len(requested))
		item.tagScored = true
		out = append(out, item)
	}
	return out
}

func filterExact(items []*scored, opts QueryOptions) []*scored {
	if len(opts.Exact) == 0 {
		return items
	}

	out := items[:0]
	for _, item := range items {
		keep := true
		for _, f := range opts.Exact {
			if ledgerdex.AsString(fieldAtPath(item.rec, f.Path)) != f.Value {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// fieldAtPath walks a dot-separated path through a record's data. A one
// segment path searches across templates like Record.Field; a deeper path
// descends into nested maps.
func fieldAtPath(rec domain.Record, path string) any {
	segs := strings.Split(path, ".")
	if len(segs) == 0 {
		return nil
	}

	var cur any
	if fields, ok := rec.Data[segs[0]]; ok {
		cur = map[string]any(fields)
		segs = segs[1:]
	} else {
		cur = rec.Field(segs[0])
		segs = segs[1:]
	}

	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// sortItems orders the pipeline output. A sort key whose prerequisite
// filter was not supplied warns and leaves the order unchanged.
func sortItems(items []*scored, opts QueryOptions) {
	key := strings.ToLower(strings.TrimSpace(opts.SortBy))
	if key == "" {
		key = "date"
	}

	var less func(a, b *scored) bool
	switch key {
	case "tagscore", "tag_score":
		if len(opts.Tags) == 0 {
			slog.Warn("sort by tag score without a tags filter, ignoring")
			return
		}
		less = func(a, b *scored) bool { return a.tagScore < b.tagScore }
	case "matchcount", "match_count", "relevance":
		if opts.Search == "" {
			slog.Warn("sort by search relevance without a search filter, ignoring")
			return
		}
		less = func(a, b *scored) bool { return a.matchCount < b.matchCount }
	case "score", "matcherscore":
		if !hasDomainMatchers(opts) {
			slog.Warn("sort by matcher score without a domain matcher, ignoring")
			return
		}
		less = func(a, b *scored) bool {
			if a.matcherScore != b.matcherScore {
				return a.matcherScore < b.matcherScore
			}
			return a.matcherCount < b.matcherCount
		}
	case "fuzzy", "similarity":
		if len(opts.Fuzzy) == 0 {
			slog.Warn("sort by similarity without a fuzzy filter, ignoring")
			return
		}
		less = func(a, b *scored) bool { return a.fuzzyScore < b.fuzzyScore }
	case "name":
		less = func(a, b *scored) bool {
			return strings.ToLower(a.rec.Name()) < strings.ToLower(b.rec.Name())
		}
	case "block", "blockheight", "block_height":
		less = func(a, b *scored) bool { return a.rec.BlockHeight < b.rec.BlockHeight }
	case "date", "indexedat", "indexed_at":
		less = func(a, b *scored) bool { return a.rec.IndexedAt.Before(b.rec.IndexedAt) }
	default:
		slog.Warn("unknown sort key, falling back to date", "sort_by", opts.SortBy)
		less = func(a, b *scored) bool { return a.rec.IndexedAt.Before(b.rec.IndexedAt) }
	}

	sort.SliceStable(items, func(i, j int) bool {
		if opts.SortDesc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func hasDomainMatchers(opts QueryOptions) bool {
	return len(opts.Ingredients) > 0 || len(opts.IngredientDIDs) > 0 ||
		len(opts.Equipment) > 0 || len(opts.ExerciseTypes) > 0 ||
		len(opts.Cuisines) > 0 || len(opts.SupportedModels) > 0
}

// collapseByName keeps the best-ranked instance per display name under the
// active sort, which is whichever instance comes first after sorting.
func collapseByName(items []*scored) []*scored {
	seen := map[string]bool{}
	out := items[:0]
	for _, item := range items {
		name := strings.ToLower(item.rec.Name())
		if name != "" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}
		out = append(out, item)
	}
	return out
}

func paginate(items []*scored, page, pageSize int) (int, int, []*scored) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}

	pages := int(math.Ceil(float64(len(items)) / float64(pageSize)))
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		return page, pages, nil
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return page, pages, items[start:end]
}

func (q *QueryEngine) tagSummary(ctx context.Context, items []*scored, opts QueryOptions) QueryResult {
	counts := map[string]int{}
	for _, item := range items {
		for _, tag := range item.rec.Tags() {
			counts[strings.ToLower(tag)]++
		}
	}

	summary := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		summary = append(summary, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(summary, func(i, j int) bool {
		if summary[i].Count != summary[j].Count {
			return summary[i].Count > summary[j].Count
		}
		return summary[i].Tag < summary[j].Tag
	})

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	pages := int(math.Ceil(float64(len(summary)) / float64(pageSize)))
	if pages == 0 {
		pages = 1
	}

	total := len(summary)
	start := (page - 1) * pageSize
	if start > len(summary) {
		summary = nil
	} else {
		end := start + pageSize
		if end > len(summary) {
			end = len(summary)
		}
		summary = summary[start:end]
	}

	return QueryResult{
		TagSummary:       summary,
		TotalRecords:     total,
		CurrentPage:      page,
		TotalPages:       pages,
		IndexingProgress: q.indexingProgress(ctx),
	}
}

// recordBody flattens a scored record into the caller-facing shape,
// attaching whatever ranking signals the pipeline produced.
func recordBody(item *scored) map[string]any {
	rec := item.rec
	body := map[string]any{
		"did":             rec.DID,
		"recordType":      rec.RecordType,
		"data":            rec.Data,
		"templatesUsed":   rec.TemplatesUsed,
		"creator":         rec.Creator,
		"blockHeight":     rec.BlockHeight,
		"indexedAt":       rec.IndexedAt,
		"protocolVersion": rec.ProtocolVersion,
		"status":          rec.Status,
	}
	if item.tagScored {
		body["tagScore"] = item.tagScore
	}
	if item.searched {
		body["matchCount"] = item.matchCount
	}
	if item.matched {
		body["score"] = item.matcherScore
		body["matches"] = item.matcherCount
	}
	if item.fuzzed {
		body["similarity"] = item.fuzzyScore
	}
	return body
}
