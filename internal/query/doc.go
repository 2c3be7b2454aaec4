// Package query provides the filter intermediate representation (IR) used
// by the record adapter, and the translator from that IR onto a store's
// native search builder.
//
// ARCHITECTURE:
//
//	[wire filter map] → Parse → [Query IR] → Translate → [store.Search]
//	                                       → Match     (plain evaluation)
//
// The wire filter is the caller's structured query:
//
//	{
//	  "status":   "open",                 // equality
//	  "priority": {"$gte": 2},            // comparison
//	  "$or":      [{"a": 1}, {"b": 2}],   // logical combination
//	  "$sort":    {"priority": -1},       // sort directive
//	  "$limit":   10, "$skip": 20,        // pagination directives
//	  "$select":  ["title"],              // projection directive
//	}
//
// SEALED INTERFACE:
//
// Expr is a sealed interface using the marker method pattern. The variant
// set is closed: Equals, NotEquals, LessThan, LessOrEqual, GreaterThan,
// GreaterOrEqual, And, Or. Translate and Match switch over it with one
// branch per variant, so an operator the store cannot express never falls
// through to equality. Membership operators ($in, $nin) have no variant
// and are rejected by Parse as not implemented.
//
// NOT-EQUAL:
//
// Store builders have no named not-equal method. NotEquals is translated
// as Where(f).Not().Eq(v) and matches records lacking the field.
//
// MATCH:
//
// Match evaluates the IR against a record in plain Go. Translating a query
// and executing it on a backend returns exactly the records Match accepts
// for the fixtures the backend tests use.
package query
