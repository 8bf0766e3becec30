package ledgerdex

import (
	"strconv"
	"strings"
)

// ParseVersion parses a dotted protocol version ("0.8.1") into its numeric
// components. Missing or malformed segments parse as zero.
func ParseVersion(s string) [3]int {
	var v [3]int
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			break
		}
		v[i] = n
	}
	return v
}

// VersionAtLeast reports whether version is >= floor under dotted ordering.
func VersionAtLeast(version, floor string) bool {
	a, b := ParseVersion(version), ParseVersion(floor)
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return true
}

// AsString coerces a decoded JSON value into a string, best effort.
func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// AsFloat coerces a decoded JSON value into a float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// AsStringSlice coerces a decoded JSON value into a []string, accepting both
// []any and a comma separated string.
func AsStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := AsString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
