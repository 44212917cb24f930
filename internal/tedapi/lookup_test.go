package tedapi

import (
	"reflect"
	"testing"
)

func TestLookup(t *testing.T) {
	doc := map[string]any{
		"key1": map[string]any{"key2": "value"},
		"list": []any{1.0, 2.0},
		"leaf": "x",
	}

	tests := []struct {
		name string
		path []string
		want any
	}{
		{name: "nested", path: []string{"key1", "key2"}, want: "value"},
		{name: "missing key", path: []string{"key1", "missing"}, want: nil},
		{name: "through non-object", path: []string{"leaf", "key2"}, want: nil},
		{name: "through list", path: []string{"list", "0"}, want: nil},
		{name: "empty path", path: nil, want: doc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lookup(doc, tt.path...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Lookup(%v) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLookup_NilDocument(t *testing.T) {
	if got := Lookup(nil, "a"); got != nil {
		t.Errorf("Lookup(nil) = %v, want nil", got)
	}
	if got := LookupMap(nil); got != nil {
		t.Errorf("LookupMap(nil) = %v, want nil", got)
	}
}

func TestLookupTyped(t *testing.T) {
	doc := map[string]any{"n": 12.5, "s": "text", "l": []any{"a"}, "m": map[string]any{}}

	if v, ok := LookupFloat(doc, "n"); !ok || v != 12.5 {
		t.Errorf("LookupFloat(n) = %v, %v", v, ok)
	}
	if _, ok := LookupFloat(doc, "s"); ok {
		t.Error("LookupFloat(s) ok = true, want false")
	}
	if v, ok := LookupString(doc, "s"); !ok || v != "text" {
		t.Errorf("LookupString(s) = %q, %v", v, ok)
	}
	if l := LookupList(doc, "l"); len(l) != 1 {
		t.Errorf("LookupList(l) = %v", l)
	}
	if LookupList(doc, "m") != nil {
		t.Error("LookupList(m) should be nil for an object")
	}
	if LookupMap(doc, "m") == nil {
		t.Error("LookupMap(m) = nil")
	}
}
