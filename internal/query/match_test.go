package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/recordkit/internal/store"
)

func TestMatch(t *testing.T) {
	r := store.Record{
		"name":    "ada",
		"age":     float64(36),
		"score":   "36",
		"tags":    []any{"math", "poetry"},
		"address": map[string]any{"city": "London"},
	}

	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"nil matches", nil, true},
		{"equals", Equals{Field: "name", Value: "ada"}, true},
		{"equals numeric types", Equals{Field: "age", Value: 36}, true},
		{"equals miss", Equals{Field: "name", Value: "bob"}, false},
		{"equals nil on missing", Equals{Field: "nope", Value: nil}, true},
		{"array membership", Equals{Field: "tags", Value: "poetry"}, true},
		{"array non-member", Equals{Field: "tags", Value: "art"}, false},
		{"nested path", Equals{Field: "address.city", Value: "London"}, true},
		{"not equals excludes value", NotEquals{Field: "age", Value: 36}, false},
		{"not equals other type", NotEquals{Field: "score", Value: 36}, true},
		{"not equals missing field", NotEquals{Field: "nope", Value: 1}, true},
		{"gt", GreaterThan{Field: "age", Value: 35}, true},
		{"gt equal", GreaterThan{Field: "age", Value: 36}, false},
		{"gte", GreaterOrEqual{Field: "age", Value: 36}, true},
		{"lt", LessThan{Field: "age", Value: 40}, true},
		{"lte", LessOrEqual{Field: "age", Value: 35}, false},
		{"range across types", GreaterThan{Field: "score", Value: 1}, false},
		{"range on strings", LessThan{Field: "name", Value: "bob"}, true},
		{"range on missing", LessThan{Field: "nope", Value: 1}, false},
		{"and", And{Exprs: []Expr{Equals{Field: "name", Value: "ada"}, GreaterThan{Field: "age", Value: 1}}}, true},
		{"and one fails", And{Exprs: []Expr{Equals{Field: "name", Value: "ada"}, GreaterThan{Field: "age", Value: 99}}}, false},
		{"empty and", And{}, true},
		{"or", Or{Exprs: []Expr{Equals{Field: "name", Value: "bob"}, Equals{Field: "age", Value: 36}}}, true},
		{"empty or", Or{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.expr, r))
		})
	}
}

func TestFilter(t *testing.T) {
	rs := []store.Record{
		{"n": float64(1)},
		{"n": float64(2)},
		{"n": float64(3)},
	}
	out := Filter(GreaterOrEqual{Field: "n", Value: 2}, rs)
	assert.Equal(t, []store.Record{{"n": float64(2)}, {"n": float64(3)}}, out)
}
