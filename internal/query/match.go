package query

import "github.com/roach88/recordkit/internal/store"

// Match reports whether r satisfies e. A nil e matches every record.
//
// Range comparisons only hold between two numbers or two strings; a
// missing field satisfies nothing except NotEquals.
func Match(e Expr, r store.Record) bool {
	switch expr := e.(type) {
	case nil:
		return true
	case Equals:
		return matchEquals(r, expr.Field, expr.Value)
	case NotEquals:
		return !matchEquals(r, expr.Field, expr.Value)
	case LessThan:
		return matchCompare(r, expr.Field, expr.Value, func(c int) bool { return c < 0 })
	case LessOrEqual:
		return matchCompare(r, expr.Field, expr.Value, func(c int) bool { return c <= 0 })
	case GreaterThan:
		return matchCompare(r, expr.Field, expr.Value, func(c int) bool { return c > 0 })
	case GreaterOrEqual:
		return matchCompare(r, expr.Field, expr.Value, func(c int) bool { return c >= 0 })
	case And:
		for _, sub := range expr.Exprs {
			if !Match(sub, r) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range expr.Exprs {
			if Match(sub, r) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Filter returns the records of rs that satisfy e, in order.
func Filter(e Expr, rs []store.Record) []store.Record {
	out := make([]store.Record, 0, len(rs))
	for _, r := range rs {
		if Match(e, r) {
			out = append(out, r)
		}
	}
	return out
}

// matchEquals treats an array field as a set: equality means membership.
func matchEquals(r store.Record, field string, want any) bool {
	got, ok := store.Lookup(r, field)
	if !ok {
		return want == nil
	}
	if list, isList := got.([]any); isList {
		for _, item := range list {
			if store.Equal(item, want) {
				return true
			}
		}
		return false
	}
	if list, isList := got.([]string); isList {
		for _, item := range list {
			if store.Equal(item, want) {
				return true
			}
		}
		return false
	}
	return store.Equal(got, want)
}

func matchCompare(r store.Record, field string, want any, accept func(int) bool) bool {
	got, ok := store.Lookup(r, field)
	if !ok {
		return false
	}
	c, ok := store.Compare(got, want)
	return ok && accept(c)
}
