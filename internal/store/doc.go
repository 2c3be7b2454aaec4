// Package store defines the contract between the record adapter and the
// document store it runs on.
//
// A Backend holds records keyed by identity, enforces per-record expiry and
// exposes a Search builder for indexed queries. Three implementations live
// in subpackages:
//
//   - sqlite: durable, JSON documents with expression indexes
//   - redis:  RedisJSON documents searched through RediSearch
//   - memory: in-process, used by tests and the scenario harness
//
// # Search Builder
//
// A Search accumulates predicates and is executed by Count, Page or All.
// Top-level predicates are combined with AND. And and Or open a scoped
// group whose predicates are combined with the group's operator; an empty
// And group matches everything, an empty Or group matches nothing.
//
// Not-equal is expressed as a negated equality, Where(f).Not().Eq(v), and
// matches records that lack the field.
//
// Query construction failures (unknown field, unsupported comparison) are
// returned as *QueryError so callers can tell them apart from transport
// failures.
//
// # Ordering
//
// Every query orders by the explicit sort fields first and then by
// identity ascending, so paging over an unchanged collection is stable.
//
// # Values
//
// time.Time values are stored and compared as Unix seconds. Numbers of
// any Go numeric type compare by value.
package store
