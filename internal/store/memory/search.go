package memory

import (
	"context"
	"sort"

	"github.com/SierraSoftworks/connor"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

// matcher reports whether a record satisfies one builder term.
type matcher func(store.Record) bool

type sortKey struct {
	field      string
	descending bool
}

type search struct {
	b      *Backend
	schema *schema.Schema

	union  bool // Or group
	nested bool

	terms []matcher
	sorts []sortKey
}

func newSearch(b *Backend, s *schema.Schema) *search {
	return &search{b: b, schema: s}
}

func (s *search) field(name string) (schema.Field, error) {
	if s.schema == nil {
		return schema.Field{}, store.Unsupported("no index has been built")
	}
	f, ok := s.schema.Field(name)
	if !ok {
		return schema.Field{}, store.FieldNotInSchema(name)
	}
	return f, nil
}

func (s *search) Where(field string) store.Predicate {
	return &predicate{s: s, field: field}
}

func (s *search) And(fn func(store.Search) error) error {
	return s.group(false, fn)
}

func (s *search) Or(fn func(store.Search) error) error {
	return s.group(true, fn)
}

func (s *search) group(union bool, fn func(store.Search) error) error {
	sub := &search{b: s.b, schema: s.schema, union: union, nested: true}
	if err := fn(sub); err != nil {
		return err
	}
	s.terms = append(s.terms, sub.match)
	return nil
}

// match combines the terms: all for an And group or the top level, any
// for an Or group.
func (s *search) match(r store.Record) bool {
	if s.union {
		for _, m := range s.terms {
			if m(r) {
				return true
			}
		}
		return false
	}
	for _, m := range s.terms {
		if !m(r) {
			return false
		}
	}
	return true
}

func (s *search) SortBy(field string, descending bool) error {
	if s.nested {
		return store.Unsupported("sort is only allowed at the top level of a query")
	}
	f, err := s.field(field)
	if err != nil {
		return err
	}
	if f.Type == schema.TypeStringArray {
		return store.Unsupported("cannot sort by array field '%s'", field)
	}
	s.sorts = append(s.sorts, sortKey{field: field, descending: descending})
	return nil
}

// results filters and orders the snapshot. Records lacking a sort field
// (or holding an incomparable value) sort first, as SQL NULLs do; ties
// keep identity order because the snapshot is already in that order.
func (s *search) results() ([]store.Record, error) {
	all, err := s.b.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(all))
	for _, r := range all {
		if s.match(r) {
			out = append(out, r)
		}
	}
	if len(s.sorts) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, k := range s.sorts {
				c := compareForSort(out[i], out[j], k.field)
				if c == 0 {
					continue
				}
				if k.descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	return out, nil
}

func compareForSort(a, b store.Record, field string) int {
	va, okA := store.Lookup(a, field)
	vb, okB := store.Lookup(b, field)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	c, ok := store.Compare(va, vb)
	if !ok {
		return 0
	}
	return c
}

func (s *search) Count(context.Context) (int, error) {
	rs, err := s.results()
	if err != nil {
		return 0, err
	}
	return len(rs), nil
}

func (s *search) Page(_ context.Context, offset, count int) ([]store.Record, error) {
	rs, err := s.results()
	if err != nil {
		return nil, err
	}
	if offset >= len(rs) {
		return []store.Record{}, nil
	}
	end := offset + count
	if end > len(rs) {
		end = len(rs)
	}
	return rs[offset:end], nil
}

func (s *search) All(context.Context) ([]store.Record, error) {
	return s.results()
}

type predicate struct {
	s      *search
	field  string
	negate bool
}

func (p *predicate) Not() store.Predicate {
	return &predicate{s: p.s, field: p.field, negate: !p.negate}
}

func (p *predicate) add(m matcher) error {
	if p.negate {
		inner := m
		m = func(r store.Record) bool { return !inner(r) }
	}
	p.s.terms = append(p.s.terms, m)
	return nil
}

func (p *predicate) Eq(v any) error {
	f, err := p.s.field(p.field)
	if err != nil {
		return err
	}
	want := store.Normalize(v)
	field := p.field

	switch want.(type) {
	case map[string]any, store.Record, []any:
		return store.Unsupported("field '%s' cannot be compared with a value of type %T", p.field, v)
	}
	if want == nil {
		return p.add(func(r store.Record) bool {
			got, ok := store.Lookup(r, field)
			return !ok || got == nil
		})
	}
	if f.Type == schema.TypeStringArray {
		return p.add(func(r store.Record) bool {
			got, _ := store.Lookup(r, field)
			list, _ := got.([]any)
			for _, item := range list {
				if p.s.b.evaluate("$eq", item, want) {
					return true
				}
			}
			return false
		})
	}
	return p.add(func(r store.Record) bool {
		got, ok := store.Lookup(r, field)
		return ok && p.s.b.evaluate("$eq", got, want)
	})
}

func (p *predicate) Gt(v any) error  { return p.compare("$gt", v) }
func (p *predicate) Gte(v any) error { return p.compare("$ge", v) }
func (p *predicate) Lt(v any) error  { return p.compare("$lt", v) }
func (p *predicate) Lte(v any) error { return p.compare("$le", v) }

// compare only hands connor values of the same kind, so numbers never
// range-compare with strings.
func (p *predicate) compare(op string, v any) error {
	f, err := p.s.field(p.field)
	if err != nil {
		return err
	}
	if f.Type == schema.TypeStringArray {
		return store.Unsupported("cannot range-compare array field '%s'", p.field)
	}
	want := store.Normalize(v)
	if _, ok := store.Compare(want, want); !ok {
		return store.Unsupported("cannot range-compare field '%s' with a value of type %T", p.field, v)
	}
	field := p.field
	return p.add(func(r store.Record) bool {
		got, ok := store.Lookup(r, field)
		if !ok {
			return false
		}
		if _, comparable := store.Compare(got, want); !comparable {
			return false
		}
		return p.s.b.evaluate(op, got, want)
	})
}

// evaluate runs one connor condition against a single value. Numbers are
// widened to float64 first so int and float compare by value.
func (b *Backend) evaluate(op string, got, want any) bool {
	got, want = widen(got), widen(want)
	if !sameKind(got, want) {
		return false
	}
	ok, err := connor.Match(
		map[string]interface{}{"v": map[string]interface{}{op: want}},
		map[string]interface{}{"v": got},
	)
	if err != nil {
		b.logger.Debug("condition evaluation failed", "op", op, "error", err)
		return false
	}
	return ok
}

func widen(v any) any {
	if f, ok := store.AsFloat(v); ok {
		return f
	}
	return v
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	}
	return false
}
