package usecase

import (
	"log/slog"
	"strings"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// minNutritionCoverage is the fraction of a recipe's ingredients that must
// convert successfully before a nutrition summary is published at all. A
// summary built from fewer is misleading and gets omitted instead.
const minNutritionCoverage = 0.25

// NutritionEngine converts ingredient amounts between units and aggregates
// per-recipe nutrient totals.
type NutritionEngine struct {
	volumeToMl   map[string]float64
	weightToG    map[string]float64
	countToGrams map[string]float64
	// ingredient-name keyed overrides for count units: a slice of bacon
	// weighs nothing like a slice of bread
	countOverrides map[string]map[string]float64
}

func NewNutritionEngine() *NutritionEngine {
	return &NutritionEngine{
		volumeToMl: map[string]float64{
			"ml":         1,
			"milliliter": 1,
			"l":          1000,
			"liter":      1000,
			"tsp":        4.93,
			"teaspoon":   4.93,
			"tbsp":       14.79,
			"tablespoon": 14.79,
			"floz":       29.57,
			"cup":        236.59,
			"pint":       473.18,
			"quart":      946.35,
			"gallon":     3785.41,
		},
		weightToG: map[string]float64{
			"mg":       0.001,
			"g":        1,
			"gram":     1,
			"kg":       1000,
			"kilogram": 1000,
			"oz":       28.35,
			"ounce":    28.35,
			"lb":       453.59,
			"pound":    453.59,
		},
		countToGrams: map[string]float64{
			"slice":  25,
			"piece":  50,
			"clove":  5,
			"stalk":  40,
			"sprig":  2,
			"leaf":   0.5,
			"egg":    50,
			"stick":  113,
			"can":    400,
			"bunch":  150,
			"head":   500,
			"pinch":  0.3,
			"dash":   0.6,
			"unit":   50,
			"item":   50,
			"whole":  100,
			"packet": 10,
		},
		countOverrides: map[string]map[string]float64{
			"bacon":    {"slice": 12, "strip": 12},
			"bread":    {"slice": 30, "loaf": 500},
			"cheese":   {"slice": 20},
			"garlic":   {"clove": 3, "head": 40},
			"butter":   {"stick": 113, "pat": 5},
			"lemon":    {"whole": 60, "slice": 8},
			"onion":    {"whole": 150, "slice": 15},
			"tomato":   {"whole": 125, "slice": 20},
			"egg":      {"whole": 50, "large": 57, "small": 43},
			"tortilla": {"piece": 45},
		},
	}
}

// Convert translates amount from one unit into another for the named
// ingredient. Returns false when no conversion path exists. Same-unit
// conversion is the identity, always.
func (n *NutritionEngine) Convert(amount float64, fromUnit, toUnit, ingredient string) (float64, bool) {
	from := n.normalizeUnit(fromUnit)
	to := n.normalizeUnit(toUnit)

	if from == to {
		return amount, true
	}

	if fromMl, ok := n.volumeToMl[from]; ok {
		if toMl, ok := n.volumeToMl[to]; ok {
			return amount * fromMl / toMl, true
		}
	}

	fromG, fromIsWeight := n.weightToG[from]
	toG, toIsWeight := n.weightToG[to]
	if fromIsWeight && toIsWeight {
		return amount * fromG / toG, true
	}

	// count-item units convert into weight via approximate gram tables
	if toIsWeight {
		if grams, ok := n.gramsPerItem(from, ingredient); ok {
			return amount * grams / toG, true
		}
	}
	if fromIsWeight {
		if grams, ok := n.gramsPerItem(to, ingredient); ok {
			return amount * fromG / grams, true
		}
	}

	return 0, false
}

// gramsPerItem resolves a count unit to grams, consulting ingredient-name
// overrides first. An unrecognized unit falls back to the generic item
// weight rather than failing, treating it as a count equivalent.
func (n *NutritionEngine) gramsPerItem(unit, ingredient string) (float64, bool) {
	name := strings.ToLower(ingredient)
	for key, overrides := range n.countOverrides {
		if strings.Contains(name, key) {
			if grams, ok := overrides[unit]; ok {
				return grams, true
			}
		}
	}
	if grams, ok := n.countToGrams[unit]; ok {
		return grams, true
	}
	// an unrecognized unit is treated as a generic count equivalent
	if unit != "" {
		if _, isVolume := n.volumeToMl[unit]; !isVolume {
			return n.countToGrams["item"], true
		}
	}
	return 0, false
}

// normalizeUnit lowercases, strips punctuation and singularizes plural
// forms, but only down to a unit some table actually knows.
func (n *NutritionEngine) normalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.ReplaceAll(u, ".", "")
	u = strings.ReplaceAll(u, " ", "")
	if n.knows(u) {
		return u
	}
	if s := strings.TrimSuffix(u, "s"); s != u && n.knows(s) {
		return s
	}
	if s := strings.TrimSuffix(u, "es"); s != u && n.knows(s) {
		return s
	}
	return u
}

func (n *NutritionEngine) knows(unit string) bool {
	if _, ok := n.volumeToMl[unit]; ok {
		return true
	}
	if _, ok := n.weightToG[unit]; ok {
		return true
	}
	_, ok := n.countToGrams[unit]
	return ok
}

// ingredientEntry is one structured ingredient of a recipe.
type ingredientEntry struct {
	Name   string
	Amount float64
	Unit   string
	DID    string
}

func parseIngredientEntries(rec domain.Record) []ingredientEntry {
	raw, ok := rec.Field("ingredients").([]any)
	if !ok {
		return nil
	}
	entries := make([]ingredientEntry, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		amount, _ := ledgerdex.AsFloat(m["amount"])
		entries = append(entries, ingredientEntry{
			Name:   ledgerdex.AsString(m["name"]),
			Amount: amount,
			Unit:   ledgerdex.AsString(m["unit"]),
			DID:    ledgerdex.AsString(m["did"]),
		})
	}
	return entries
}

// NutritionSummary aggregates a recipe's nutrient totals by converting each
// ingredient entry into its referenced ingredient's standard basis.
// Unconvertible entries are skipped; below the coverage floor the whole
// summary is omitted.
func (q *QueryEngine) NutritionSummary(rec domain.Record) (map[string]float64, bool) {
	entries := parseIngredientEntries(rec)
	if len(entries) == 0 {
		return nil, false
	}

	totals := map[string]float64{}
	converted := 0

	for _, entry := range entries {
		ing, ok := q.cache.Lookup(entry.DID)
		if !ok {
			continue
		}

		stdAmount, okAmount := ledgerdex.AsFloat(ing.Field("standardAmount"))
		stdUnit := ledgerdex.AsString(ing.Field("standardUnit"))
		nutrients, okNutrients := ing.Field("nutrients").(map[string]any)
		if !okAmount || stdAmount <= 0 || stdUnit == "" || !okNutrients {
			continue
		}

		inStd, ok := q.nutrition.Convert(entry.Amount, entry.Unit, stdUnit, entry.Name)
		if !ok {
			slog.Debug("ingredient amount not convertible, skipping",
				"ingredient", entry.Name, "unit", entry.Unit, "standard_unit", stdUnit)
			continue
		}

		factor := inStd / stdAmount
		for nutrient, v := range nutrients {
			if amount, ok := ledgerdex.AsFloat(v); ok {
				totals[nutrient] += amount * factor
			}
		}
		converted++
	}

	coverage := float64(converted) / float64(len(entries))
	if coverage < minNutritionCoverage {
		return nil, false
	}
	return totals, true
}
