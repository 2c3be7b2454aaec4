package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

// clause is a parameterized WHERE fragment.
// Values are NEVER interpolated - always ? placeholders.
type clause struct {
	sql  string
	args []any
}

// search compiles builder calls into a single SELECT.
type search struct {
	b      *Backend
	schema *schema.Schema

	// op joins clauses: " AND " for the top level and And groups,
	// " OR " for Or groups.
	op     string
	nested bool

	clauses []clause
	orderBy []string
}

func newSearch(b *Backend, s *schema.Schema) *search {
	return &search{b: b, schema: s, op: " AND "}
}

// field resolves name against the schema.
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
	return s.group(" AND ", fn)
}

func (s *search) Or(fn func(store.Search) error) error {
	return s.group(" OR ", fn)
}

func (s *search) group(op string, fn func(store.Search) error) error {
	sub := &search{b: s.b, schema: s.schema, op: op, nested: true}
	if err := fn(sub); err != nil {
		return err
	}
	s.clauses = append(s.clauses, sub.joined())
	return nil
}

// joined combines the clauses with the search's operator. An empty AND is
// true and an empty OR is false.
func (s *search) joined() clause {
	if len(s.clauses) == 0 {
		if s.op == " OR " {
			return clause{sql: "0"}
		}
		return clause{sql: "1"}
	}
	parts := make([]string, len(s.clauses))
	var args []any
	for i, c := range s.clauses {
		parts[i] = c.sql
		args = append(args, c.args...)
	}
	return clause{sql: "(" + strings.Join(parts, s.op) + ")", args: args}
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
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	s.orderBy = append(s.orderBy, fmt.Sprintf("json_extract(doc, %s) %s", jsonPath(field), dir))
	return nil
}

// where builds the WHERE clause for the current time.
func (s *search) where(nowMillis int64) (string, []any) {
	sql := " WHERE " + liveClause
	args := []any{nowMillis}
	if len(s.clauses) > 0 {
		c := s.joined()
		sql += " AND " + c.sql
		args = append(args, c.args...)
	}
	return sql, args
}

// compileSelect returns the SELECT statement. When paged is true the
// statement ends with LIMIT ? OFFSET ? and the caller appends both values.
//
// MANDATORY: every select ends its ORDER BY with the identity tiebreaker.
func (s *search) compileSelect(nowMillis int64, paged bool) (string, []any) {
	where, args := s.where(nowMillis)
	order := append(append([]string{}, s.orderBy...), "id COLLATE BINARY ASC")
	sql := "SELECT doc FROM " + tableName(s.schema) + where + " ORDER BY " + strings.Join(order, ", ")
	if paged {
		sql += " LIMIT ? OFFSET ?"
	}
	return sql, args
}

func (s *search) compileCount(nowMillis int64) (string, []any) {
	where, args := s.where(nowMillis)
	return "SELECT COUNT(*) FROM " + tableName(s.schema) + where, args
}

func (s *search) Count(ctx context.Context) (int, error) {
	if s.schema == nil {
		return 0, errNoIndex
	}
	sql, args := s.compileCount(s.b.nowMillis())
	var n int
	if err := s.b.db.QueryRowContext(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *search) Page(ctx context.Context, offset, count int) ([]store.Record, error) {
	if s.schema == nil {
		return nil, errNoIndex
	}
	sql, args := s.compileSelect(s.b.nowMillis(), true)
	return s.query(ctx, sql, append(args, count, offset)...)
}

func (s *search) All(ctx context.Context) ([]store.Record, error) {
	if s.schema == nil {
		return nil, errNoIndex
	}
	sql, args := s.compileSelect(s.b.nowMillis(), false)
	return s.query(ctx, sql, args...)
}

func (s *search) query(ctx context.Context, sql string, args ...any) ([]store.Record, error) {
	rows, err := s.b.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	records := []store.Record{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// predicate compiles one field comparison.
type predicate struct {
	s      *search
	field  string
	negate bool
}

func (p *predicate) Not() store.Predicate {
	return &predicate{s: p.s, field: p.field, negate: !p.negate}
}

// add appends the clause, negated as "(...) IS NOT 1" so rows where the
// comparison is NULL (field missing) count as not matching.
func (p *predicate) add(sql string, args ...any) error {
	if p.negate {
		sql = "(" + sql + ") IS NOT 1"
	}
	p.s.clauses = append(p.s.clauses, clause{sql: sql, args: args})
	return nil
}

func (p *predicate) Eq(v any) error {
	f, err := p.s.field(p.field)
	if err != nil {
		return err
	}
	v = store.Normalize(v)
	path := jsonPath(p.field)

	if v == nil {
		return p.add(fmt.Sprintf("json_extract(doc, %s) IS NULL", path))
	}
	guard, ok := typeGuard(v)
	if !ok {
		return store.Unsupported("cannot compare field '%s' with a value of type %T", p.field, v)
	}
	if f.Type == schema.TypeStringArray {
		return p.add(fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(doc, %s) WHERE type %s AND value = ?)",
			path, guard), bindValue(v))
	}
	return p.add(fmt.Sprintf("(json_type(doc, %s) %s AND json_extract(doc, %s) = ?)",
		path, guard, path), bindValue(v))
}

func (p *predicate) Gt(v any) error  { return p.compare(">", v) }
func (p *predicate) Gte(v any) error { return p.compare(">=", v) }
func (p *predicate) Lt(v any) error  { return p.compare("<", v) }
func (p *predicate) Lte(v any) error { return p.compare("<=", v) }

// compare guards the comparison with json_type so numbers only compare
// with numbers and strings with strings. Booleans have no order.
func (p *predicate) compare(op string, v any) error {
	f, err := p.s.field(p.field)
	if err != nil {
		return err
	}
	if f.Type == schema.TypeStringArray {
		return store.Unsupported("cannot range-compare array field '%s'", p.field)
	}
	v = store.Normalize(v)
	path := jsonPath(p.field)

	guard, ok := typeGuard(v)
	if _, isBool := v.(bool); !ok || isBool {
		return store.Unsupported("cannot range-compare field '%s' with a value of type %T", p.field, v)
	}
	return p.add(fmt.Sprintf("(json_type(doc, %s) %s AND json_extract(doc, %s) %s ?)",
		path, guard, path, op), v)
}

// typeGuard returns the json_type condition for values of v's kind.
// json_extract reports JSON booleans as 1 and 0, so without it true would
// equal the number 1.
func typeGuard(v any) (string, bool) {
	switch v.(type) {
	case bool:
		return "IN ('true', 'false')", true
	case string:
		return "= 'text'", true
	}
	if store.IsNumber(v) {
		return "IN ('integer', 'real')", true
	}
	return "", false
}

// bindValue converts v to the value json_extract yields for it.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
