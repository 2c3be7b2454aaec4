package query

import (
	"errors"
	"fmt"

	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/store"
)

// Translate applies q to the native search builder s.
//
// A *store.QueryError raised by the builder is returned as an
// apperr GeneralError carrying the builder's name and message. Any other
// error is returned unchanged.
func Translate(q *Query, s store.Search) error {
	if q == nil {
		return nil
	}
	if q.Where != nil {
		if err := translateExpr(q.Where, s); err != nil {
			return NormalizeError(err)
		}
	}
	for _, f := range q.Sort {
		if err := s.SortBy(f.Field, f.Descending); err != nil {
			return NormalizeError(err)
		}
	}
	return nil
}

// translateExpr has one branch per Expr variant. NotEquals goes through
// Not().Eq because builders have no named not-equal method.
func translateExpr(e Expr, s store.Search) error {
	switch expr := e.(type) {
	case Equals:
		return s.Where(expr.Field).Eq(expr.Value)
	case NotEquals:
		return s.Where(expr.Field).Not().Eq(expr.Value)
	case LessThan:
		return s.Where(expr.Field).Lt(expr.Value)
	case LessOrEqual:
		return s.Where(expr.Field).Lte(expr.Value)
	case GreaterThan:
		return s.Where(expr.Field).Gt(expr.Value)
	case GreaterOrEqual:
		return s.Where(expr.Field).Gte(expr.Value)
	case And:
		return s.And(func(g store.Search) error {
			return translateAll(expr.Exprs, g)
		})
	case Or:
		return s.Or(func(g store.Search) error {
			return translateAll(expr.Exprs, g)
		})
	default:
		return fmt.Errorf("unsupported expression type: %T", e)
	}
}

func translateAll(exprs []Expr, s store.Search) error {
	for _, e := range exprs {
		if err := translateExpr(e, s); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeError converts a *store.QueryError anywhere in err's chain to
// an apperr GeneralError. Other errors are returned unchanged.
func NormalizeError(err error) error {
	var qe *store.QueryError
	if errors.As(err, &qe) {
		return apperr.GeneralQuery(qe.Name, qe.Message, err)
	}
	return err
}
