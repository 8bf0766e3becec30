package usecase

import (
	"context"
	"log/slog"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/schemas"
)

// decodeStrategy normalizes one template's decoded field set. Strategies are
// keyed by template name so that well-known shapes get their quirks fixed at
// the ingestion boundary instead of inside the query engine.
type decodeStrategy func(fields map[string]any) map[string]any

var decodeStrategies = map[string]decodeStrategy{
	schemas.Basic:                     normalizeBasic,
	schemas.AccessControl:             normalizeAccessControl,
	schemas.Recipe:                    normalizeRecipe,
	schemas.Workout:                   passthrough,
	schemas.Exercise:                  normalizeExercise,
	schemas.Ingredient:                passthrough,
	schemas.Podcast:                   passthrough,
	schemas.Media:                     passthrough,
	ledgerdex.TypeCreatorRegistration: passthrough,
	ledgerdex.TypeOrganization:        passthrough,
	ledgerdex.TypeDeleteMessage:       passthrough,
}

// RecordDecoder expands a transaction's positional tuples into the named
// per-template field maps a record carries.
type RecordDecoder struct {
	templates *TemplateRegistry
}

func NewRecordDecoder(templates *TemplateRegistry) *RecordDecoder {
	return &RecordDecoder{templates: templates}
}

// Decode resolves every tuple of tx against the template registry and merges
// the results by template name. A tuple whose template cannot be resolved is
// dropped with a warning; the remaining tuples still decode. Returns the
// merged data map and the templateName -> templateTxID map, or (nil, nil)
// when nothing decoded.
func (d *RecordDecoder) Decode(ctx context.Context, tx ledgerdex.Transaction) (map[string]map[string]any, map[string]string) {
	data := map[string]map[string]any{}
	used := map[string]string{}

	for _, tuple := range tx.Payload {
		tpl := d.templates.Get(ctx, tuple.Template)
		if tpl == nil {
			slog.Warn("tuple references unknown template, skipping",
				"tx_id", tx.ID, "template_tx", tuple.Template)
			continue
		}

		fields := DecodeTuple(tpl, tuple.Values)
		if len(fields) == 0 {
			continue
		}
		if normalize, ok := decodeStrategies[tpl.Name]; ok {
			fields = normalize(fields)
		}

		if existing, ok := data[tpl.Name]; ok {
			for k, v := range fields {
				existing[k] = v
			}
		} else {
			data[tpl.Name] = fields
		}
		used[tpl.Name] = tuple.Template
	}

	if len(data) == 0 {
		return nil, nil
	}
	return data, used
}

func passthrough(fields map[string]any) map[string]any { return fields }

func normalizeBasic(fields map[string]any) map[string]any {
	// tagItems may arrive as a comma separated string from older publishers
	if raw, ok := fields["tagItems"]; ok {
		if _, isList := raw.([]any); !isList {
			tags := ledgerdex.AsStringSlice(raw)
			items := make([]any, 0, len(tags))
			for _, tag := range tags {
				items = append(items, tag)
			}
			fields["tagItems"] = items
		}
	}
	return fields
}

// normalizeAccessControl folds the legacy is_private flag into access_level
// so everything downstream reads one field.
func normalizeAccessControl(fields map[string]any) map[string]any {
	if _, ok := fields["access_level"]; ok {
		return fields
	}
	if private, ok := fields["is_private"].(bool); ok && private {
		fields["access_level"] = string(ledgerdex.AccessPrivate)
	}
	return fields
}

func normalizeRecipe(fields map[string]any) map[string]any {
	// older recipe tuples carried ingredient names and DID references in
	// separate parallel lists; keep both surfaces populated
	if _, ok := fields["ingredientItems"]; !ok {
		if refs, ok := fields["ingredientRefs"]; ok {
			fields["ingredientItems"] = refs
		}
	}
	return fields
}

func normalizeExercise(fields map[string]any) map[string]any {
	if raw, ok := fields["equipmentRequired"]; ok {
		if _, isList := raw.([]any); !isList {
			eq := ledgerdex.AsStringSlice(raw)
			items := make([]any, 0, len(eq))
			for _, e := range eq {
				items = append(items, e)
			}
			fields["equipmentRequired"] = items
		}
	}
	return fields
}
