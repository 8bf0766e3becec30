package usecase

import (
	"github.com/openindexlabs/ledgerdex"
)

// resolveBody expands DID-valued fields into the records they reference,
// recursively, bounded strictly by depth. There is deliberately no visited
// set: the same DID may legitimately appear at several depths and each
// occurrence resolves independently.
func (q *QueryEngine) resolveBody(body map[string]any, depth int, namesOnly bool) map[string]any {
	if depth <= 0 {
		return body
	}

	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = q.resolveValue(v, depth, namesOnly)
	}
	return out
}

func (q *QueryEngine) resolveValue(v any, depth int, namesOnly bool) any {
	if depth <= 0 {
		return v
	}

	switch t := v.(type) {
	case string:
		if !ledgerdex.IsDID(t) {
			return t
		}
		rec, ok := q.cache.Lookup(t)
		if !ok {
			return t
		}
		if namesOnly {
			if name := rec.Name(); name != "" {
				return name
			}
			return t
		}
		data := make(map[string]any, len(rec.Data))
		for tpl, fields := range rec.Data {
			data[tpl] = map[string]any(fields)
		}
		resolved := map[string]any{
			"did":        rec.DID,
			"recordType": rec.RecordType,
			"data":       data,
			"creator":    rec.Creator,
		}
		return q.resolveBody(resolved, depth-1, namesOnly)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = q.resolveValue(e, depth, namesOnly)
		}
		return out
	case map[string]map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = q.resolveValue(map[string]any(e), depth, namesOnly)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = q.resolveValue(e, depth, namesOnly)
		}
		return out
	default:
		return v
	}
}
