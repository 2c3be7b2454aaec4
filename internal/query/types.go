package query

// Expr is a filter expression in the query IR.
//
// This is a sealed interface - only types in this package implement it.
// Leaf variants compare one field to a literal; And and Or combine
// sub-expressions.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Equals matches records whose field equals Value. On an array field it
// matches when Value is a member.
type Equals struct {
	Field string
	Value any
}

func (Equals) exprNode() {}

// NotEquals matches records whose field differs from Value, including
// records without the field.
type NotEquals struct {
	Field string
	Value any
}

func (NotEquals) exprNode() {}

// LessThan matches field < Value.
type LessThan struct {
	Field string
	Value any
}

func (LessThan) exprNode() {}

// LessOrEqual matches field <= Value.
type LessOrEqual struct {
	Field string
	Value any
}

func (LessOrEqual) exprNode() {}

// GreaterThan matches field > Value.
type GreaterThan struct {
	Field string
	Value any
}

func (GreaterThan) exprNode() {}

// GreaterOrEqual matches field >= Value.
type GreaterOrEqual struct {
	Field string
	Value any
}

func (GreaterOrEqual) exprNode() {}

// And matches when every sub-expression matches. An empty And matches
// every record.
type And struct {
	Exprs []Expr
}

func (And) exprNode() {}

// Or matches when any sub-expression matches. An empty Or matches nothing.
type Or struct {
	Exprs []Expr
}

func (Or) exprNode() {}

// SortField is one entry of a sort directive.
type SortField struct {
	Field      string
	Descending bool
}

// Query is a parsed filter.
type Query struct {
	// Where is the filter; nil matches every record.
	Where Expr

	// Sort lists explicit sort fields in application order.
	Sort []SortField
}

// Directives are the pagination and projection keys of a filter. They
// never reach the store builder.
type Directives struct {
	// Limit is $limit; nil when absent.
	Limit *int

	// Skip is $skip; nil when absent.
	Skip *int

	// Select is $select; nil when absent.
	Select []string
}
