package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/recordkit/internal/schema"
)

// Record is a flat document keyed by field name.
type Record map[string]any

// Clone returns a shallow copy of r. A nil Record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Backend is a keyed document store with secondary indexing and TTL.
type Backend interface {
	// Fetch returns the record stored under id. A missing or expired key
	// yields an empty Record and a nil error.
	Fetch(ctx context.Context, id string) (Record, error)

	// Save writes r under id, replacing any previous document. An
	// existing expiry on the key is kept.
	Save(ctx context.Context, id string, r Record) error

	// Remove deletes the record under id. Removing a missing key is not
	// an error.
	Remove(ctx context.Context, id string) error

	// Expire sets the key to expire seconds from now, replacing any
	// previous expiry.
	Expire(ctx context.Context, id string, seconds int) error

	// Search starts a new query against the index.
	Search() Search

	// EnsureIndex builds the index for s. It is a no-op when the stored
	// index fingerprint matches s and reports whether a rebuild happened.
	EnsureIndex(ctx context.Context, s *schema.Schema) (rebuilt bool, err error)

	// Close releases the backend's resources.
	Close() error
}

// Search is a native query builder. See the package documentation for
// the combination rules.
type Search interface {
	Where(field string) Predicate
	And(fn func(Search) error) error
	Or(fn func(Search) error) error
	SortBy(field string, descending bool) error

	Count(ctx context.Context) (int, error)
	Page(ctx context.Context, offset, count int) ([]Record, error)
	All(ctx context.Context) ([]Record, error)
}

// Predicate is a comparison on a single field.
type Predicate interface {
	// Not negates the next comparison.
	Not() Predicate

	Eq(v any) error
	Gt(v any) error
	Gte(v any) error
	Lt(v any) error
	Lte(v any) error
}

// QueryError is a failure to construct a native query.
type QueryError struct {
	Name    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Names used in QueryError.Name.
const (
	ErrNameSearch = "SearchError"
	ErrNameField  = "FieldNotInSchema"
)

// FieldNotInSchema returns the QueryError for a field missing from the index.
func FieldNotInSchema(field string) *QueryError {
	return &QueryError{
		Name:    ErrNameField,
		Message: fmt.Sprintf("the field '%s' is not in the schema", field),
	}
}

// Unsupported returns a QueryError describing an operation the backend
// cannot express.
func Unsupported(format string, args ...any) *QueryError {
	return &QueryError{Name: ErrNameSearch, Message: fmt.Sprintf(format, args...)}
}

// Clock supplies the current time to backends that enforce expiry
// themselves.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
