package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/access"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

type allowAllVerifier struct{}

func (allowAllVerifier) IsMember(context.Context, string, string) (bool, error) {
	return true, nil
}

type staticProgress struct{ p float64 }

func (s staticProgress) Progress(context.Context) float64 { return s.p }

func testRecord(did, name string, tags []string, extra map[string]map[string]any) domain.Record {
	tagItems := make([]any, 0, len(tags))
	for _, t := range tags {
		tagItems = append(tagItems, t)
	}
	data := map[string]map[string]any{
		"basic": {"name": name, "description": name + " description", "tagItems": tagItems},
	}
	for tpl, fields := range extra {
		data[tpl] = fields
	}
	return domain.Record{
		DID:        did,
		RecordType: "document",
		Data:       data,
		Creator:    domain.Creator{Handle: "alice", Address: "ldx1alice"},
		Status:     ledgerdex.StatusOriginal,
		IndexedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(t *testing.T, recs ...domain.Record) (*QueryEngine, *memRecordStore) {
	t.Helper()
	store := newMemRecordStore()
	for i, rec := range recs {
		if rec.IndexedAt.IsZero() {
			rec.IndexedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		rec.IndexedAt = rec.IndexedAt.Add(time.Duration(i) * time.Minute)
		store.records[rec.DID] = rec
	}
	cache := NewRecordsCache(store, time.Hour)
	engine := NewQueryEngine(cache, access.NewEvaluator(allowAllVerifier{}, 4), staticProgress{p: 100})
	return engine, store
}

func TestTagScoringScenario(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:1", "Gold report", []string{"gold"}, nil),
		testRecord("did:ldx:2", "Audit trail", []string{"audit", "security"}, nil),
		testRecord("did:ldx:3", "Fed minutes", []string{"federal-reserve"}, nil),
	)

	res, err := engine.Query(context.Background(), QueryOptions{
		Tags:    []string{"gold", "audit"},
		TagMode: MatchAny,
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	dids := map[string]float64{}
	for _, rec := range res.Records {
		dids[rec["did"].(string)] = rec["tagScore"].(float64)
	}
	assert.InDelta(t, 0.5, dids["did:ldx:1"], 1e-9)
	assert.InDelta(t, 0.5, dids["did:ldx:2"], 1e-9)
	assert.NotContains(t, dids, "did:ldx:3")
}

func TestTagFilterAndMode(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:1", "Both", []string{"gold", "audit"}, nil),
		testRecord("did:ldx:2", "One", []string{"gold"}, nil),
	)

	res, err := engine.Query(context.Background(), QueryOptions{
		Tags:    []string{"gold", "audit"},
		TagMode: MatchAll,
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "did:ldx:1", res.Records[0]["did"])
	assert.InDelta(t, 1.0, res.Records[0]["tagScore"].(float64), 1e-9)
}

func TestFreeTextSearch(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:1", "Sourdough starter", []string{"baking"}, nil),
		testRecord("did:ldx:2", "Quarterly audit", []string{"finance"}, nil),
	)

	res, err := engine.Query(context.Background(), QueryOptions{
		Search:     "sourdough baking",
		SearchMode: MatchAll,
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "did:ldx:1", res.Records[0]["did"])
	assert.Equal(t, 2, res.Records[0]["matchCount"])
	assert.Equal(t, 1, res.SearchResults)
}

func TestPaginationCompleteness(t *testing.T) {
	recs := make([]domain.Record, 0, 25)
	for i := 0; i < 25; i++ {
		recs = append(recs, testRecord(
			fmt.Sprintf("did:ldx:%02d", i), fmt.Sprintf("Record %02d", i), nil, nil))
	}
	engine, _ := newTestEngine(t, recs...)

	seen := map[string]int{}
	var pages int
	for page := 1; ; page++ {
		res, err := engine.Query(context.Background(), QueryOptions{
			Page: page, PageSize: 7, SortBy: "name",
		}, access.Identity{})
		require.NoError(t, err)
		assert.Equal(t, 25, res.TotalRecords)
		assert.Equal(t, 4, res.TotalPages)
		for _, rec := range res.Records {
			seen[rec["did"].(string)]++
		}
		pages = res.TotalPages
		if page >= pages {
			break
		}
	}

	assert.Len(t, seen, 25)
	for did, n := range seen {
		assert.Equal(t, 1, n, "record %s appeared %d times", did, n)
	}
}

func TestSortPrerequisiteWarnsAndNoops(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:1", "B record", nil, nil),
		testRecord("did:ldx:2", "A record", nil, nil),
	)

	// tag-score sort without a tags filter keeps insertion (date) order
	res, err := engine.Query(context.Background(), QueryOptions{
		SortBy: "tagScore",
	}, access.Identity{})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "did:ldx:1", res.Records[0]["did"])
}

func TestDuplicateNameCollapse(t *testing.T) {
	older := testRecord("did:ldx:1", "Carbonara", []string{"pasta"}, nil)
	newer := testRecord("did:ldx:2", "Carbonara", []string{"pasta", "roman"}, nil)
	other := testRecord("did:ldx:3", "Cacio e pepe", []string{"pasta"}, nil)

	engine, _ := newTestEngine(t, older, newer, other)

	res, err := engine.Query(context.Background(), QueryOptions{
		Tags:               []string{"pasta", "roman"},
		TagMode:            MatchAny,
		SortBy:             "tagScore",
		SortDesc:           true,
		CollapseDuplicates: true,
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	// the better-scored Carbonara survives
	assert.Equal(t, "did:ldx:2", res.Records[0]["did"])
}

func TestFuzzyFieldSearchGrading(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:exact", "carbonara", nil, nil),
		testRecord("did:ldx:prefix", "carbonara deluxe", nil, nil),
		testRecord("did:ldx:word", "classic carbonara dish", nil, nil),
		testRecord("did:ldx:typo", "carbonnara", nil, nil),
		testRecord("did:ldx:unrelated", "beef stew", nil, nil),
	)

	res, err := engine.Query(context.Background(), QueryOptions{
		Fuzzy:    []FuzzyFilter{{Field: "name", Value: "carbonara"}},
		SortBy:   "similarity",
		SortDesc: true,
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 4)
	assert.Equal(t, "did:ldx:exact", res.Records[0]["did"])
	assert.Equal(t, "did:ldx:prefix", res.Records[1]["did"])
	assert.Equal(t, "did:ldx:word", res.Records[2]["did"])
	assert.Equal(t, "did:ldx:typo", res.Records[3]["did"])
}

func TestExactPathFilter(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:1", "Tonkotsu", nil, map[string]map[string]any{
			"recipe": {"cuisine": "japanese"},
		}),
		testRecord("did:ldx:2", "Carbonara", nil, map[string]map[string]any{
			"recipe": {"cuisine": "italian"},
		}),
	)

	res, err := engine.Query(context.Background(), QueryOptions{
		Exact: []ExactFilter{{Path: "recipe.cuisine", Value: "italian"}},
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "did:ldx:2", res.Records[0]["did"])
}

func TestIngredientMatcherOrderBonus(t *testing.T) {
	ordered := testRecord("did:ldx:ordered", "Carbonara", nil, map[string]map[string]any{
		"recipe": {"ingredientItems": []any{"eggs", "guanciale", "pecorino"}},
	})
	shuffled := testRecord("did:ldx:shuffled", "Carbonara twist", nil, map[string]map[string]any{
		"recipe": {"ingredientItems": []any{"pecorino", "guanciale", "eggs"}},
	})
	engine, _ := newTestEngine(t, ordered, shuffled)

	res, err := engine.Query(context.Background(), QueryOptions{
		Ingredients: []string{"eggs", "guanciale"},
		MatcherMode: MatchAll,
		SortBy:      "score",
		SortDesc:    true,
	}, access.Identity{})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "did:ldx:ordered", res.Records[0]["did"])
	assert.Greater(t,
		res.Records[0]["score"].(float64),
		res.Records[1]["score"].(float64))
}

func TestTagSummaryMode(t *testing.T) {
	engine, _ := newTestEngine(t,
		testRecord("did:ldx:1", "A", []string{"gold", "audit"}, nil),
		testRecord("did:ldx:2", "B", []string{"gold"}, nil),
		testRecord("did:ldx:3", "C", []string{"silver"}, nil),
	)

	res, err := engine.Query(context.Background(), QueryOptions{
		TagSummaryMode: true,
	}, access.Identity{})
	require.NoError(t, err)

	assert.Nil(t, res.Records)
	require.NotEmpty(t, res.TagSummary)
	assert.Equal(t, TagCount{Tag: "gold", Count: 2}, res.TagSummary[0])
	assert.Equal(t, 3, res.TotalRecords)
}

func TestReferenceResolutionDepthBound(t *testing.T) {
	leaf := testRecord("did:ldx:leaf", "Pecorino", nil, nil)
	mid := testRecord("did:ldx:mid", "Sauce", nil, map[string]map[string]any{
		"recipe": {"mainIngredient": "did:ldx:leaf"},
	})
	top := testRecord("did:ldx:top", "Carbonara", nil, map[string]map[string]any{
		"recipe": {"baseSauce": "did:ldx:mid"},
	})
	engine, _ := newTestEngine(t, leaf, mid, top)

	body, err := engine.Get(context.Background(), "did:ldx:top", access.Identity{}, 1, false)
	require.NoError(t, err)

	data := body["data"].(map[string]any)
	recipe := data["recipe"].(map[string]any)
	resolved, ok := recipe["baseSauce"].(map[string]any)
	require.True(t, ok, "depth 1 must resolve the direct reference")

	// the nested reference stays a bare DID at depth 1
	nested := resolved["data"].(map[string]any)["recipe"].(map[string]any)
	assert.Equal(t, "did:ldx:leaf", nested["mainIngredient"])

	// names-only resolution substitutes display names
	body, err = engine.Get(context.Background(), "did:ldx:top", access.Identity{}, 2, true)
	require.NoError(t, err)
	recipe = body["data"].(map[string]any)["recipe"].(map[string]any)
	assert.Equal(t, "Sauce", recipe["baseSauce"])
}

func TestIdentityUnitConversion(t *testing.T) {
	n := NewNutritionEngine()

	got, ok := n.Convert(3.5, "cup", "cup", "flour")
	require.True(t, ok)
	assert.Equal(t, 3.5, got)

	got, ok = n.Convert(2, "cups", "Cup", "milk")
	require.True(t, ok)
	assert.Equal(t, 2.0, got)
}

func TestUnitConversionTables(t *testing.T) {
	n := NewNutritionEngine()

	got, ok := n.Convert(1, "cup", "ml", "milk")
	require.True(t, ok)
	assert.InDelta(t, 236.59, got, 0.01)

	got, ok = n.Convert(2, "lb", "g", "flour")
	require.True(t, ok)
	assert.InDelta(t, 907.18, got, 0.01)

	// bacon slices use the ingredient override, not the generic slice
	got, ok = n.Convert(4, "slices", "g", "smoked bacon")
	require.True(t, ok)
	assert.InDelta(t, 48, got, 0.01)

	got, ok = n.Convert(4, "slices", "g", "rye bread")
	require.True(t, ok)
	assert.InDelta(t, 120, got, 0.01)

	// volume to weight has no density table and must fail
	_, ok = n.Convert(1, "cup", "g", "milk")
	assert.False(t, ok)

	// an unrecognized unit falls back to a generic count equivalent
	got, ok = n.Convert(2, "blorb", "g", "tofu")
	require.True(t, ok)
	assert.InDelta(t, 100, got, 0.01)
}

func nutritionIngredient(did, name, unit string, amount float64, nutrients map[string]any) domain.Record {
	return testRecord(did, name, nil, map[string]map[string]any{
		"ingredient": {
			"standardAmount": amount,
			"standardUnit":   unit,
			"nutrients":      nutrients,
		},
	})
}

func TestNutritionSummary(t *testing.T) {
	flour := nutritionIngredient("did:ldx:flour", "Flour", "g", 100,
		map[string]any{"calories": 364.0, "protein": 10.0})
	milk := nutritionIngredient("did:ldx:milk", "Milk", "ml", 100,
		map[string]any{"calories": 42.0, "protein": 3.4})

	recipe := testRecord("did:ldx:pancakes", "Pancakes", nil, map[string]map[string]any{
		"recipe": {
			"ingredients": []any{
				map[string]any{"name": "flour", "amount": 200.0, "unit": "g", "did": "did:ldx:flour"},
				map[string]any{"name": "milk", "amount": 1.0, "unit": "cup", "did": "did:ldx:milk"},
			},
		},
	})

	engine, _ := newTestEngine(t, flour, milk, recipe)
	_, err := engine.cache.Get(context.Background(), true)
	require.NoError(t, err)

	rec, ok := engine.cache.Lookup("did:ldx:pancakes")
	require.True(t, ok)

	totals, ok := engine.NutritionSummary(rec)
	require.True(t, ok)
	assert.InDelta(t, 364*2+42*2.3659, totals["calories"], 0.1)
	assert.InDelta(t, 10*2+3.4*2.3659, totals["protein"], 0.01)
}

func TestNutritionCoverageThreshold(t *testing.T) {
	known := nutritionIngredient("did:ldx:salt", "Salt", "g", 100, map[string]any{"sodium": 38758.0})

	entries := []any{
		map[string]any{"name": "salt", "amount": 5.0, "unit": "g", "did": "did:ldx:salt"},
	}
	for i := 0; i < 4; i++ {
		entries = append(entries, map[string]any{
			"name": fmt.Sprintf("mystery-%d", i), "amount": 1.0, "unit": "g",
			"did": fmt.Sprintf("did:ldx:unknown-%d", i),
		})
	}
	recipe := testRecord("did:ldx:dish", "Dish", nil, map[string]map[string]any{
		"recipe": {"ingredients": entries},
	})

	engine, _ := newTestEngine(t, known, recipe)
	_, err := engine.cache.Get(context.Background(), true)
	require.NoError(t, err)
	rec, _ := engine.cache.Lookup("did:ldx:dish")

	// 1 of 5 converts: below the 25% floor, summary omitted
	_, ok := engine.NutritionSummary(rec)
	assert.False(t, ok)
}

func TestGetRespectsAccess(t *testing.T) {
	private := testRecord("did:ldx:secret", "Secret", nil, map[string]map[string]any{
		"accessControl": {
			"access_level":     "private",
			"owner_public_key": "02owner",
		},
	})
	engine, _ := newTestEngine(t, private)

	_, err := engine.Get(context.Background(), "did:ldx:secret", access.Identity{}, 0, false)
	assert.Error(t, err)

	body, err := engine.Get(context.Background(), "did:ldx:secret", access.Identity{PublicKey: "02owner"}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "did:ldx:secret", body["did"])
}
