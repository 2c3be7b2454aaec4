package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

// pageSize bounds each FT.SEARCH reply when All walks the result set.
const pageSize = 1000

// search compiles builder calls into a RediSearch query string.
type search struct {
	b      *Backend
	schema *schema.Schema

	// sep joins terms: " " (intersection) or " | " (union).
	sep    string
	nested bool

	terms []string

	sortField string
	sortDesc  bool
}

func newSearch(b *Backend, s *schema.Schema) *search {
	return &search{b: b, schema: s, sep: " "}
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
	return s.group(" ", fn)
}

func (s *search) Or(fn func(store.Search) error) error {
	return s.group(" | ", fn)
}

// group compiles fn into a parenthesized term. RediSearch has no literal
// for "nothing", so an empty union is rejected; an empty intersection
// adds no term.
func (s *search) group(sep string, fn func(store.Search) error) error {
	sub := &search{b: s.b, schema: s.schema, sep: sep, nested: true}
	if err := fn(sub); err != nil {
		return err
	}
	switch {
	case len(sub.terms) > 0:
		s.terms = append(s.terms, "("+strings.Join(sub.terms, sep)+")")
	case sep == " | ":
		return store.Unsupported("an empty OR group cannot be expressed in RediSearch")
	case s.sep == " | ":
		return store.Unsupported("an empty AND group inside an OR group cannot be expressed in RediSearch")
	}
	return nil
}

// SortBy sets the single RediSearch sort field.
func (s *search) SortBy(field string, descending bool) error {
	if s.nested {
		return store.Unsupported("sort is only allowed at the top level of a query")
	}
	if s.sortField != "" {
		return store.Unsupported("RediSearch supports a single sort field; already sorting by '%s'", s.sortField)
	}
	f, err := s.field(field)
	if err != nil {
		return err
	}
	if !f.Sortable && f.Name != s.b.idField {
		return store.Unsupported("field '%s' is not sortable", field)
	}
	s.sortField = field
	s.sortDesc = descending
	return nil
}

// queryString returns the compiled query; "*" when there are no terms.
func (s *search) queryString() string {
	if len(s.terms) == 0 {
		return "*"
	}
	return strings.Join(s.terms, " ")
}

// searchArgs builds the FT.SEARCH command. Without an explicit sort the
// results are sorted by identity.
func (s *search) searchArgs(offset, count int) []any {
	args := []any{"FT.SEARCH", s.schema.Name, s.queryString()}
	switch {
	case s.sortField != "":
		dir := "ASC"
		if s.sortDesc {
			dir = "DESC"
		}
		args = append(args, "SORTBY", alias(s.sortField), dir)
	case s.b.idField != "":
		if _, ok := s.schema.Field(s.b.idField); ok {
			args = append(args, "SORTBY", alias(s.b.idField), "ASC")
		}
	}
	return append(args, "LIMIT", offset, count)
}

func (s *search) Count(ctx context.Context) (int, error) {
	if s.schema == nil {
		return 0, errNoIndex
	}
	total, _, err := s.run(ctx, []any{"FT.SEARCH", s.schema.Name, s.queryString(), "LIMIT", 0, 0})
	return total, err
}

func (s *search) Page(ctx context.Context, offset, count int) ([]store.Record, error) {
	if s.schema == nil {
		return nil, errNoIndex
	}
	_, records, err := s.run(ctx, s.searchArgs(offset, count))
	return records, err
}

func (s *search) All(ctx context.Context) ([]store.Record, error) {
	if s.schema == nil {
		return nil, errNoIndex
	}
	all := []store.Record{}
	for offset := 0; ; offset += pageSize {
		total, records, err := s.run(ctx, s.searchArgs(offset, pageSize))
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
		if offset+pageSize >= total || len(records) == 0 {
			return all, nil
		}
	}
}

// run executes FT.SEARCH and parses the RESP2 reply:
//
//	[total, key1, ["$", json1], key2, ["$", json2], ...]
func (s *search) run(ctx context.Context, args []any) (int, []store.Record, error) {
	reply, err := s.b.client.Do(ctx, args...).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("search: %w", err)
	}
	return parseSearchReply(reply)
}

func parseSearchReply(reply []any) (int, []store.Record, error) {
	if len(reply) == 0 {
		return 0, nil, fmt.Errorf("search: empty reply")
	}
	total, ok := reply[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("search: unexpected total %T", reply[0])
	}

	records := []store.Record{}
	for i := 1; i+1 < len(reply); i += 2 {
		fields, ok := reply[i+1].([]any)
		if !ok {
			return 0, nil, fmt.Errorf("search: unexpected document %T", reply[i+1])
		}
		for j := 0; j+1 < len(fields); j += 2 {
			if fields[j] != "$" {
				continue
			}
			doc, ok := fields[j+1].(string)
			if !ok {
				return 0, nil, fmt.Errorf("search: unexpected document body %T", fields[j+1])
			}
			r, err := decodeDoc(doc)
			if err != nil {
				return 0, nil, err
			}
			records = append(records, r)
		}
	}
	return int(total), records, nil
}

// predicate compiles one field comparison into a RediSearch term.
type predicate struct {
	s      *search
	field  string
	negate bool
}

func (p *predicate) Not() store.Predicate {
	return &predicate{s: p.s, field: p.field, negate: !p.negate}
}

func (p *predicate) add(term string) error {
	if p.negate {
		term = "-" + term
	}
	p.s.terms = append(p.s.terms, term)
	return nil
}

func (p *predicate) Eq(v any) error {
	f, err := p.s.field(p.field)
	if err != nil {
		return err
	}
	v = store.Normalize(v)
	attr := "@" + alias(p.field)

	switch searchType(f.Type) {
	case "NUMERIC":
		n, ok := number(v)
		if !ok {
			return store.Unsupported("field '%s' is numeric; cannot match %T", p.field, v)
		}
		return p.add(fmt.Sprintf("%s:[%s %s]", attr, n, n))
	case "TEXT":
		str, ok := v.(string)
		if !ok {
			return store.Unsupported("field '%s' is text; cannot match %T", p.field, v)
		}
		return p.add(fmt.Sprintf("%s:(%s)", attr, escapeText(str)))
	default:
		tag, ok := tagValue(v)
		if !ok {
			return store.Unsupported("field '%s' is a tag; cannot match %T", p.field, v)
		}
		return p.add(fmt.Sprintf("%s:{%s}", attr, escapeTag(tag)))
	}
}

func (p *predicate) Gt(v any) error  { return p.rangeTerm(v, "(%s", "+inf") }
func (p *predicate) Gte(v any) error { return p.rangeTerm(v, "%s", "+inf") }
func (p *predicate) Lt(v any) error  { return p.rangeTerm(v, "-inf", "(%s") }
func (p *predicate) Lte(v any) error { return p.rangeTerm(v, "-inf", "%s") }

// rangeTerm builds @f:[low high]; the bound holding %s takes the value.
func (p *predicate) rangeTerm(v any, low, high string) error {
	f, err := p.s.field(p.field)
	if err != nil {
		return err
	}
	if !f.Type.IsRange() {
		return store.Unsupported("field '%s' of type %s does not support range comparison", p.field, f.Type)
	}
	n, ok := number(store.Normalize(v))
	if !ok {
		return store.Unsupported("range comparison on '%s' requires a number, got %T", p.field, v)
	}
	if strings.Contains(low, "%s") {
		low = fmt.Sprintf(low, n)
	}
	if strings.Contains(high, "%s") {
		high = fmt.Sprintf(high, n)
	}
	return p.add(fmt.Sprintf("@%s:[%s %s]", alias(p.field), low, high))
}

func number(v any) (string, bool) {
	if !store.IsNumber(v) {
		return "", false
	}
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}

func tagValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	}
	if n, ok := number(v); ok {
		return n, true
	}
	return "", false
}

// tagSpecial lists the characters RediSearch treats as syntax inside tag
// and text terms.
const tagSpecial = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ "

func escapeTag(s string) string {
	return escape(s, tagSpecial)
}

// escapeText keeps spaces so multi-word values match every word.
func escapeText(s string) string {
	return escape(s, strings.TrimSuffix(tagSpecial, " "))
}

func escape(s, special string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
