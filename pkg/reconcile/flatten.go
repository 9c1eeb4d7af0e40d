package reconcile

import (
	"fmt"
	"strings"
)

// The host configuration layer cannot express nested arrays of objects, only
// flat scalar-keyed maps, so repeated sub-structures arrive encoded as
// "base!0", "base!1", ... keys. Reconstruct undoes that encoding once, at the
// reconciliation entry point, so integration code only ever sees nested form.

const indexSeparator = "!"

// Reconstruct returns a copy of m with every flattened array encoding
// expanded into a densely-indexed, order-preserving array, recursively. It is
// side-effect-free and idempotent: already-nested structures pass through
// unchanged. The scan for a base stops at the first missing index, and nil
// entries are dropped rather than leaving holes.
func Reconstruct(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = reconstructValue(v)
	}

	for _, base := range flattenedBases(out) {
		// A plain value already present under the base name wins.
		if _, taken := out[base]; taken {
			continue
		}
		var arr []any
		for i := 0; ; i++ {
			key := fmt.Sprintf("%s%s%d", base, indexSeparator, i)
			v, ok := out[key]
			if !ok {
				break
			}
			delete(out, key)
			if v == nil {
				continue
			}
			arr = append(arr, v)
		}
		if arr == nil {
			arr = []any{}
		}
		out[base] = arr
	}

	return out
}

// reconstructValue recurses into nested maps and through existing arrays.
func reconstructValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Reconstruct(t)
	case []any:
		arr := make([]any, len(t))
		for i, e := range t {
			arr[i] = reconstructValue(e)
		}
		return arr
	default:
		return v
	}
}

// flattenedBases returns the distinct base names of keys shaped "base!N",
// considering only bases whose index 0 is present.
func flattenedBases(m map[string]any) []string {
	seen := map[string]bool{}
	var bases []string
	for k := range m {
		i := strings.LastIndex(k, indexSeparator)
		if i <= 0 || i == len(k)-1 {
			continue
		}
		base, idx := k[:i], k[i+1:]
		if !allDigits(idx) || seen[base] {
			continue
		}
		if _, ok := m[base+indexSeparator+"0"]; !ok {
			continue
		}
		seen[base] = true
		bases = append(bases, base)
	}
	return bases
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
