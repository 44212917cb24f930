package tedapi

import "encoding/json"

// Lookup walks a decoded JSON document along path and returns the value at
// the end, or nil if any step is missing or is not an object. An empty path
// returns doc itself.
func Lookup(doc any, path ...string) any {
	cur := doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// LookupMap is Lookup constrained to an object result.
func LookupMap(doc any, path ...string) map[string]any {
	m, _ := Lookup(doc, path...).(map[string]any)
	return m
}

// LookupList is Lookup constrained to an array result.
func LookupList(doc any, path ...string) []any {
	l, _ := Lookup(doc, path...).([]any)
	return l
}

// LookupString is Lookup constrained to a string result.
func LookupString(doc any, path ...string) (string, bool) {
	s, ok := Lookup(doc, path...).(string)
	return s, ok
}

// LookupFloat is Lookup constrained to a numeric result.
func LookupFloat(doc any, path ...string) (float64, bool) {
	return toFloat(Lookup(doc, path...))
}

// toFloat converts the numeric representations a document may hold.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
