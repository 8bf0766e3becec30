package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// TemplateRegistry resolves schema templates by transaction id. Templates
// are created once, externally; the registry pulls them lazily from the
// store (or the ledger on a miss) and caches them.
type TemplateRegistry struct {
	templates TemplateStore
	records   RecordStore
	ledger    LedgerSource
	cache     *gocache.Cache
}

func NewTemplateRegistry(templates TemplateStore, records RecordStore, ledger LedgerSource, ttl time.Duration) *TemplateRegistry {
	return &TemplateRegistry{
		templates: templates,
		records:   records,
		ledger:    ledger,
		cache:     gocache.New(ttl, 2*ttl),
	}
}

// Get returns the template anchored at txID, or nil when it cannot be
// resolved. An unresolvable template is not fatal: the caller skips the
// tuple and logs.
func (r *TemplateRegistry) Get(ctx context.Context, txID string) *domain.Template {
	if cached, found := r.cache.Get(txID); found {
		tpl := cached.(domain.Template)
		return &tpl
	}

	tpl, err := r.templates.Get(ctx, txID)
	if err == nil {
		r.cache.Set(txID, tpl, gocache.DefaultExpiration)
		return &tpl
	}
	if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("template store read failed", "tx_id", txID, "error", err)
		return nil
	}

	// lazy pull from the ledger
	if r.ledger == nil {
		return nil
	}
	tx, err := r.ledger.GetTransaction(ctx, txID)
	if err != nil {
		slog.Warn("template not resolvable from ledger", "tx_id", txID, "error", err)
		return nil
	}
	parsed, err := ParseTemplate(tx)
	if err != nil {
		slog.Warn("template transaction malformed", "tx_id", txID, "error", err)
		return nil
	}
	if err := r.templates.Save(ctx, parsed, tx.BlockHeight); err != nil {
		slog.Warn("template save failed", "tx_id", txID, "error", err)
	}
	r.cache.Set(txID, parsed, gocache.DefaultExpiration)
	return &parsed
}

// Index stores a template seen during a sync cycle.
func (r *TemplateRegistry) Index(ctx context.Context, tx ledgerdex.Transaction) error {
	tpl, err := ParseTemplate(tx)
	if err != nil {
		return err
	}
	if err := r.templates.Save(ctx, tpl, tx.BlockHeight); err != nil {
		return err
	}
	r.cache.Set(tpl.TxID, tpl, gocache.DefaultExpiration)
	return nil
}

// Delete removes a template after verifying the issuer is its creator and
// that no indexed record still references it. A referenced template returns
// TemplateInUseError and nothing is mutated.
func (r *TemplateRegistry) Delete(ctx context.Context, txID string, issuerAddress string) error {
	tpl, err := r.templates.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tpl.CreatorAddress != issuerAddress {
		return domain.UnauthorizedError{Reason: "delete issuer is not the template creator"}
	}

	refs, err := r.records.CountTemplateRefs(ctx, txID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return domain.TemplateInUseError{TxID: txID, References: refs}
	}

	if err := r.templates.Delete(ctx, txID); err != nil {
		return err
	}
	r.cache.Delete(txID)
	return nil
}

// ParseTemplate reads a template-creation transaction. The payload is a flat
// schema object: "<field>" holds the wire type, "index_<field>" the tuple
// position, and "<field>Values" the ordered enum table for enum fields.
func ParseTemplate(tx ledgerdex.Transaction) (domain.Template, error) {
	name := tx.Tag(ledgerdex.TagTemplateName)
	if name == "" {
		return domain.Template{}, fmt.Errorf("template transaction %s has no %s tag", tx.ID, ledgerdex.TagTemplateName)
	}

	var schema map[string]any
	if err := json.Unmarshal(tx.RawPayload, &schema); err != nil {
		return domain.Template{}, fmt.Errorf("template %s: malformed schema: %w", tx.ID, err)
	}

	fields := map[string]domain.FieldDef{}
	enums := map[string][]string{}

	for key, val := range schema {
		if strings.HasPrefix(key, "index_") || strings.HasSuffix(key, "Values") {
			continue
		}
		typ, ok := val.(string)
		if !ok {
			continue
		}

		idx, ok := ledgerdex.AsFloat(schema["index_"+key])
		if !ok {
			return domain.Template{}, fmt.Errorf("template %s: field %s has no position", tx.ID, key)
		}
		fields[key] = domain.FieldDef{Type: typ, Index: int(idx)}

		if baseType(typ) == "enum" {
			enums[key] = ledgerdex.AsStringSlice(schema[key+"Values"])
		}
	}

	if len(fields) == 0 {
		return domain.Template{}, fmt.Errorf("template %s: empty schema", tx.ID)
	}

	return domain.Template{
		TxID:           tx.ID,
		Name:           name,
		Fields:         fields,
		EnumValues:     enums,
		CreatorAddress: tx.SignerAddress,
		Status:         ledgerdex.StatusOriginal,
	}, nil
}

// DecodeTuple expands positional values into named fields using the
// template's field map. Enum indices resolve to their human string; scalars
// are coerced by wire type; repeated types decode element-wise.
func DecodeTuple(tpl *domain.Template, values []any) map[string]any {
	if tpl == nil {
		return nil
	}

	out := make(map[string]any, len(tpl.Fields))
	for field, def := range tpl.Fields {
		if def.Index < 0 || def.Index >= len(values) {
			continue
		}
		raw := values[def.Index]
		if raw == nil {
			continue
		}

		if rep, ok := strings.CutPrefix(def.Type, "repeated "); ok {
			items, isList := raw.([]any)
			if !isList {
				continue
			}
			decoded := make([]any, 0, len(items))
			for _, item := range items {
				if v := coerceScalar(rep, item, tpl.EnumValues[field]); v != nil {
					decoded = append(decoded, v)
				}
			}
			out[field] = decoded
			continue
		}

		if v := coerceScalar(def.Type, raw, tpl.EnumValues[field]); v != nil {
			out[field] = v
		}
	}
	return out
}

// EncodeTuple is the inverse of DecodeTuple: it lays named fields back out
// into positional order. Used by publish tooling and the round-trip tests.
func EncodeTuple(tpl *domain.Template, fields map[string]any) []any {
	if tpl == nil {
		return nil
	}

	max := -1
	for _, def := range tpl.Fields {
		if def.Index > max {
			max = def.Index
		}
	}

	values := make([]any, max+1)
	for field, def := range tpl.Fields {
		v, ok := fields[field]
		if !ok || def.Index < 0 {
			continue
		}

		if rep, isRep := strings.CutPrefix(def.Type, "repeated "); isRep {
			items := ledgerdex.AsStringSlice(v)
			if baseType(rep) != "enum" && baseType(rep) != "string" && baseType(rep) != "dref" {
				if list, ok := v.([]any); ok {
					values[def.Index] = list
					continue
				}
			}
			encoded := make([]any, 0, len(items))
			for _, item := range items {
				encoded = append(encoded, encodeScalar(rep, item, tpl.EnumValues[field]))
			}
			values[def.Index] = encoded
			continue
		}

		values[def.Index] = encodeScalar(def.Type, v, tpl.EnumValues[field])
	}
	return values
}

func baseType(t string) string {
	return strings.TrimPrefix(t, "repeated ")
}

func coerceScalar(typ string, raw any, enumValues []string) any {
	switch typ {
	case "uint64":
		f, ok := ledgerdex.AsFloat(raw)
		if !ok || f < 0 {
			return nil
		}
		return uint64(f)
	case "float":
		f, ok := ledgerdex.AsFloat(raw)
		if !ok {
			return nil
		}
		return f
	case "bool":
		b, ok := raw.(bool)
		if !ok {
			return nil
		}
		return b
	case "enum":
		if s, ok := raw.(string); ok {
			return s
		}
		f, ok := ledgerdex.AsFloat(raw)
		if !ok {
			return nil
		}
		i := int(f)
		if i < 0 || i >= len(enumValues) {
			return nil
		}
		return enumValues[i]
	case "string", "dref":
		return ledgerdex.AsString(raw)
	default:
		return raw
	}
}

func encodeScalar(typ string, v any, enumValues []string) any {
	switch typ {
	case "enum":
		s := ledgerdex.AsString(v)
		for i, candidate := range enumValues {
			if candidate == s {
				return float64(i)
			}
		}
		return nil
	case "uint64", "float":
		f, _ := ledgerdex.AsFloat(v)
		return f
	default:
		return v
	}
}
