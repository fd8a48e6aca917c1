package configtree

import "encoding/json"

// Any is the sum-type every Topic leaf holds: null (represented as a nil
// Any), bool, int64, float64, string, []Any or map[string]Any. Go already
// has a sum type shaped exactly like this — the empty interface plus a
// type switch — so there is no dedicated wrapper type; callers that need
// to distinguish the cases do so with a type switch, same as anywhere else
// in the pack that models a dynamic JSON/YAML value (e.g. the teacher's
// `spec.Service.Config json.RawMessage` boundary).
type Any = any

// normalizeNumber coerces the numeric variants produced by different
// decoders (encoding/json produces float64, or json.Number when the
// transaction-log replay decodes with UseNumber; yaml.v3 produces int) down
// to the two numeric members of Any: int64 and float64. A json.Number
// becomes int64 when its literal is an integer. Everything else is
// returned unchanged.
func normalizeNumber(v Any) Any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	case uint64:
		return int64(n)
	default:
		return n
	}
}

// Equal reports whether two Any values are the same per setValue's no-op
// check. Maps and lists compare by deep structural equality so that
// replaying an identical mergeMap doesn't bump modtimes.
func Equal(a, b Any) bool {
	a, b = normalizeNumber(a), normalizeNumber(b)
	switch av := a.(type) {
	case map[string]Any:
		bv, ok := b.(map[string]Any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if bv2, ok := bv[k]; !ok || !Equal(v, bv2) {
				return false
			}
		}
		return true
	case []Any:
		bv, ok := b.([]Any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
