// Package adapter is the record CRUD service.
//
// A Service wraps one store.Backend collection and exposes find, get,
// create, update, patch, remove and expire with consistent identity,
// field selection and pagination rules. Filters are parsed and translated
// by the query package; TTL policy lives in an expiration.Manager.
//
// Thread-safety: a Service holds no per-call state and is safe for
// concurrent use. Concurrent creates never collide because identities
// come from the IDGenerator, not from the store.
package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/recordkit/internal/expiration"
	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

// DefaultIDField is the identity field used when none is configured.
const DefaultIDField = "entityId"

// MethodCreate is the only operation that may be multi-record.
const MethodCreate = "create"

// Service is the record adapter for one collection.
type Service struct {
	backend    store.Backend
	schema     *schema.Schema
	idField    string
	multi      map[string]bool
	paginate   *Paginate
	ids        IDGenerator
	logger     *slog.Logger
	expiration *expiration.Manager

	defaultTTL *int
	rebuilt    bool
}

// Option configures a Service.
type Option func(*Service)

// WithIDField sets the identity field. Default: "entityId".
func WithIDField(name string) Option {
	return func(s *Service) {
		s.idField = name
	}
}

// WithExpiration sets the default TTL in seconds applied to created
// records.
func WithExpiration(seconds int) Option {
	return func(s *Service) {
		s.defaultTTL = &seconds
	}
}

// WithMulti allow-lists operations for multi-record calls. Only "create"
// has a multi-record form.
func WithMulti(methods ...string) Option {
	return func(s *Service) {
		for _, m := range methods {
			s.multi[m] = true
		}
	}
}

// WithPaginate sets the service pagination. A nil value or a zero
// Default leaves find unpaginated.
func WithPaginate(p *Paginate) Option {
	return func(s *Service) {
		s.paginate = p
	}
}

// WithIDGenerator sets the identity generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a Service and builds the collection index.
//
// The identity field is added to the schema as a string field when the
// schema does not declare it. The index is rebuilt only when the schema
// changed since the last build.
func New(ctx context.Context, backend store.Backend, s *schema.Schema, opts ...Option) (*Service, error) {
	svc := &Service{
		backend: backend,
		idField: DefaultIDField,
		multi:   make(map[string]bool),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if s == nil {
		return nil, fmt.Errorf("new adapter: schema is required")
	}
	indexed := *s
	indexed.Fields = append([]schema.Field(nil), s.Fields...)
	indexed.EnsureField(svc.idField, schema.TypeString)
	svc.schema = &indexed

	svc.expiration = expiration.NewManager(backend, svc.idField, svc.logger)
	if svc.defaultTTL != nil {
		svc.expiration.SetDefault(*svc.defaultTTL)
	}

	rebuilt, err := backend.EnsureIndex(ctx, svc.schema)
	if err != nil {
		return nil, fmt.Errorf("build index %s: %w", svc.schema.Name, err)
	}
	svc.rebuilt = rebuilt
	svc.logger.Debug("adapter ready",
		"collection", svc.schema.Name,
		"id_field", svc.idField,
		"index_rebuilt", rebuilt,
	)
	return svc, nil
}

// IDField returns the identity field name.
func (s *Service) IDField() string { return s.idField }

// Schema returns the indexed schema, including the identity field.
func (s *Service) Schema() *schema.Schema { return s.schema }

// IndexRebuilt reports whether New had to rebuild the index.
func (s *Service) IndexRebuilt() bool { return s.rebuilt }

// SetExpiration sets the default TTL. It affects only records created or
// refreshed afterwards.
func (s *Service) SetExpiration(seconds int) {
	s.expiration.SetDefault(seconds)
}

// ClearExpiration removes the default TTL.
func (s *Service) ClearExpiration() {
	s.expiration.ClearDefault()
}

// Expiration returns the default TTL and whether one is set.
func (s *Service) Expiration() (int, bool) {
	return s.expiration.Default()
}

// Expire sets the TTL of one record, given its identity or the record
// itself. Store errors are returned unchanged.
func (s *Service) Expire(ctx context.Context, idOrRecord any, seconds int) error {
	return s.expiration.Set(ctx, idOrRecord, seconds)
}
