package query

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/store"
)

// Reserved filter keys. Operator and combinator keys are never treated as
// field names.
const (
	OpAnd    = "$and"
	OpOr     = "$or"
	OpSort   = "$sort"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpLimit  = "$limit"
	OpSkip   = "$skip"
	OpSelect = "$select"
)

// Parse converts a wire filter into a Query and its Directives.
//
// Keys are visited in lexical order so the same filter always produces the
// same IR. Top-level field predicates are combined with And. Errors are
// *apperr.Error: BadRequest for malformed input, NotImplemented for $in
// and $nin.
func Parse(filter map[string]any) (*Query, Directives, error) {
	q := &Query{}
	var d Directives
	var exprs []Expr

	for _, key := range sortedKeys(filter) {
		value := filter[key]
		switch key {
		case OpLimit, OpSkip, OpSelect:
			if err := d.set(key, value); err != nil {
				return nil, Directives{}, err
			}
		case OpSort:
			sortFields, err := parseSort(value)
			if err != nil {
				return nil, Directives{}, err
			}
			q.Sort = sortFields
		default:
			e, err := parseKey(key, value)
			if err != nil {
				return nil, Directives{}, err
			}
			exprs = append(exprs, e...)
		}
	}

	switch len(exprs) {
	case 0:
	case 1:
		q.Where = exprs[0]
	default:
		q.Where = And{Exprs: exprs}
	}
	return q, d, nil
}

// ParseDirectives parses only the $limit, $skip and $select keys of
// filter. Predicates are not looked at, so a filter Parse would reject
// can still yield valid directives.
func ParseDirectives(filter map[string]any) (Directives, error) {
	var d Directives
	for _, key := range []string{OpLimit, OpSelect, OpSkip} {
		value, ok := filter[key]
		if !ok {
			continue
		}
		if err := d.set(key, value); err != nil {
			return Directives{}, err
		}
	}
	return d, nil
}

func (d *Directives) set(key string, value any) error {
	if key == OpSelect {
		fields, err := parseSelect(value)
		if err != nil {
			return err
		}
		d.Select = fields
		return nil
	}
	n, err := parseCount(key, value)
	if err != nil {
		return err
	}
	if key == OpLimit {
		d.Limit = &n
	} else {
		d.Skip = &n
	}
	return nil
}

// parseScope parses one sub-filter of $and or $or.
func parseScope(filter map[string]any) (Expr, error) {
	var exprs []Expr
	for _, key := range sortedKeys(filter) {
		switch key {
		case OpLimit, OpSkip, OpSelect, OpSort:
			return nil, apperr.BadRequest("%s is only allowed at the top level of a query", key)
		}
		e, err := parseKey(key, filter[key])
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e...)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return And{Exprs: exprs}, nil
}

func parseKey(key string, value any) ([]Expr, error) {
	switch {
	case key == OpAnd || key == OpOr:
		list, ok := asList(value)
		if !ok {
			return nil, apperr.BadRequest("%s requires a list of filters", key)
		}
		subs := make([]Expr, 0, len(list))
		for i, item := range list {
			obj, ok := asObject(item)
			if !ok {
				return nil, apperr.BadRequest("%s[%d] must be an object", key, i)
			}
			e, err := parseScope(obj)
			if err != nil {
				return nil, err
			}
			subs = append(subs, e)
		}
		if key == OpAnd {
			return []Expr{And{Exprs: subs}}, nil
		}
		return []Expr{Or{Exprs: subs}}, nil
	case key == OpIn || key == OpNin:
		return nil, apperr.NotImplemented("%s is not supported by the store; use $or of equalities", key)
	case isOperator(key):
		return nil, apperr.BadRequest("unknown operator %s", key)
	default:
		return parseField(key, value, 0)
	}
}

// parseField parses the value of a field key. A plain object opens a
// nested scope: operator keys apply to field, other keys qualify it as
// field.key. Only one level of qualification is allowed.
func parseField(field string, value any, depth int) ([]Expr, error) {
	obj, ok := asObject(value)
	if !ok {
		return []Expr{Equals{Field: field, Value: value}}, nil
	}

	var exprs []Expr
	for _, k := range sortedKeys(obj) {
		v := obj[k]
		switch k {
		case OpNe:
			exprs = append(exprs, NotEquals{Field: field, Value: v})
		case OpGt, OpGte, OpLt, OpLte:
			if v == nil {
				return nil, apperr.BadRequest("%s on field '%s' requires a value", k, field)
			}
			exprs = append(exprs, comparison(k, field, v))
		case OpIn, OpNin:
			return nil, apperr.NotImplemented("%s is not supported by the store; use $or of equalities", k)
		default:
			if isOperator(k) {
				return nil, apperr.BadRequest("unknown operator %s on field '%s'", k, field)
			}
			if depth > 0 {
				return nil, apperr.BadRequest("field '%s.%s': only one level of nesting is supported", field, k)
			}
			sub, err := parseField(field+"."+k, v, depth+1)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, sub...)
		}
	}
	return exprs, nil
}

func comparison(op, field string, v any) Expr {
	switch op {
	case OpGt:
		return GreaterThan{Field: field, Value: v}
	case OpGte:
		return GreaterOrEqual{Field: field, Value: v}
	case OpLt:
		return LessThan{Field: field, Value: v}
	default:
		return LessOrEqual{Field: field, Value: v}
	}
}

// parseSort reads {field: direction}. 1 (or "1") is ascending, anything
// else descending.
func parseSort(value any) ([]SortField, error) {
	obj, ok := asObject(value)
	if !ok {
		return nil, apperr.BadRequest("%s requires an object of field to direction", OpSort)
	}
	fields := make([]SortField, 0, len(obj))
	for _, k := range sortedKeys(obj) {
		if isOperator(k) {
			return nil, apperr.BadRequest("cannot sort by operator %s", k)
		}
		fields = append(fields, SortField{Field: k, Descending: !isAscending(obj[k])})
	}
	return fields, nil
}

func isAscending(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == "1"
	}
	return store.IsNumber(v) && store.Equal(v, 1)
}

func parseCount(key string, value any) (int, error) {
	var n int
	switch v := value.(type) {
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, apperr.BadRequest("%s must be an integer, got %q", key, v)
		}
		n = parsed
	case float64:
		if v != math.Trunc(v) {
			return 0, apperr.BadRequest("%s must be an integer, got %v", key, v)
		}
		n = int(v)
	case float32:
		if float64(v) != math.Trunc(float64(v)) {
			return 0, apperr.BadRequest("%s must be an integer, got %v", key, v)
		}
		n = int(v)
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case uint:
		n = int(v)
	case uint32:
		n = int(v)
	case uint64:
		n = int(v)
	default:
		return 0, apperr.BadRequest("%s must be an integer, got %T", key, value)
	}
	if n < 0 {
		return 0, apperr.BadRequest("%s must not be negative", key)
	}
	return n, nil
}

func parseSelect(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return append([]string{}, v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.BadRequest("%s[%d] must be a field name", OpSelect, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, apperr.BadRequest("%s requires a list of field names", OpSelect)
	}
}

func isOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

// asObject reports whether v is a plain object. Dates, arrays and nil are
// not.
func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case store.Record:
		return map[string]any(obj), true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, true
	case []store.Record:
		out := make([]any, len(list))
		for i, r := range list {
			out[i] = r
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Strip returns a copy of filter without the given keys. Used to drop
// pagination directives before single-record lookups.
func Strip(filter map[string]any, keys ...string) map[string]any {
	if filter == nil {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// HasPredicates reports whether filter carries anything besides
// pagination and projection directives.
func HasPredicates(filter map[string]any) bool {
	for k := range filter {
		switch k {
		case OpLimit, OpSkip, OpSelect:
			continue
		}
		return true
	}
	return false
}
