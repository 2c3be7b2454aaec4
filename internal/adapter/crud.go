package adapter

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/projection"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/store"
)

// Get returns the record with identity id.
//
// With predicates in params.Query the record must also match them. Every
// lookup failure is reported as NotFound for id; the underlying cause is
// logged at debug level. A malformed $select, $limit or $skip is a
// BadRequest.
func (s *Service) Get(ctx context.Context, id string, params Params) (store.Record, error) {
	selected, err := s.recordSelection(params)
	if err != nil {
		return nil, err
	}
	r, err := s.lookup(ctx, id, params.Query)
	if err != nil {
		return nil, err
	}
	return projection.Select(r, selected, s.idField), nil
}

// lookup resolves id, optionally constrained by filter. It only ever
// fails with NotFound.
func (s *Service) lookup(ctx context.Context, id string, filter map[string]any) (store.Record, error) {
	r, err := s.resolve(ctx, id, filter)
	if err != nil {
		s.logger.Debug("lookup failed", "collection", s.schema.Name, "id", id, "error", err)
		return nil, apperr.NotFound(id)
	}
	if !truthy(r[s.idField]) {
		return nil, apperr.NotFound(id)
	}
	return r, nil
}

func (s *Service) resolve(ctx context.Context, id string, filter map[string]any) (store.Record, error) {
	if !query.HasPredicates(filter) {
		return s.backend.Fetch(ctx, id)
	}

	q, _, err := query.Parse(filter)
	if err != nil {
		return nil, err
	}
	byID := query.Equals{Field: s.idField, Value: id}
	if q.Where == nil {
		q.Where = byID
	} else {
		q.Where = query.And{Exprs: []query.Expr{q.Where, byID}}
	}
	q.Sort = nil

	search, err := s.search(q)
	if err != nil {
		return nil, err
	}
	records, err := search.Page(ctx, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return store.Record{}, nil
	}
	return records[0], nil
}

// truthy reports whether an identity value counts as present.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	}
	if f, ok := store.AsFloat(v); ok {
		return f != 0
	}
	return true
}

// Create stores data under a newly generated identity. A caller-supplied
// identity is overwritten. The default TTL, if any, is applied after the
// write; when that fails the stored record is returned with the error.
func (s *Service) Create(ctx context.Context, data store.Record, params Params) (store.Record, error) {
	selected, err := s.recordSelection(params)
	if err != nil {
		return nil, err
	}
	r, err := s.write(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := s.expiration.ApplyDefault(ctx, r); err != nil {
		return projection.Select(r, selected, s.idField), fmt.Errorf("create %v: %w", r[s.idField], err)
	}
	return projection.Select(r, selected, s.idField), nil
}

// CreateMany stores every item. It fails with MethodNotAllowed, before
// touching the store, unless "create" is allow-listed for multi-record
// calls.
//
// Items are written in order; a write failure stops the batch and the
// records already written are returned with the error. The default TTL
// is then applied to every written item, and TTL failures are joined.
func (s *Service) CreateMany(ctx context.Context, items []store.Record, params Params) ([]store.Record, error) {
	if !s.multi[MethodCreate] {
		return nil, apperr.MethodNotAllowed("Can not create multiple entries")
	}
	selected, err := s.recordSelection(params)
	if err != nil {
		return nil, err
	}

	written := make([]store.Record, 0, len(items))
	var writeErr error
	for _, data := range items {
		r, err := s.write(ctx, data)
		if err != nil {
			writeErr = err
			break
		}
		written = append(written, r)
	}

	ttlErr := s.expiration.ApplyDefault(ctx, written...)
	out := projection.SelectAll(written, selected, s.idField)
	switch {
	case writeErr != nil:
		return out, writeErr
	case ttlErr != nil:
		return out, fmt.Errorf("create: %w", ttlErr)
	}
	return out, nil
}

// CreateAny dispatches on the dynamic type of data: an object goes to
// Create, a list of objects to CreateMany.
func (s *Service) CreateAny(ctx context.Context, data any, params Params) (any, error) {
	switch v := data.(type) {
	case store.Record:
		return s.Create(ctx, v, params)
	case map[string]any:
		return s.Create(ctx, store.Record(v), params)
	case []store.Record:
		return s.CreateMany(ctx, v, params)
	case []map[string]any:
		items := make([]store.Record, len(v))
		for i, m := range v {
			items[i] = store.Record(m)
		}
		return s.CreateMany(ctx, items, params)
	case []any:
		items := make([]store.Record, len(v))
		for i, item := range v {
			switch m := item.(type) {
			case store.Record:
				items[i] = m
			case map[string]any:
				items[i] = store.Record(m)
			default:
				return nil, apperr.BadRequest("item %d is %T, expected an object", i, item)
			}
		}
		return s.CreateMany(ctx, items, params)
	}
	return nil, apperr.BadRequest("cannot create from %T", data)
}

// write assigns a fresh identity to a copy of data and saves it.
func (s *Service) write(ctx context.Context, data store.Record) (store.Record, error) {
	r := data.Clone()
	if r == nil {
		r = store.Record{}
	}
	id := s.ids.Generate()
	r[s.idField] = id
	if err := s.backend.Save(ctx, id, r); err != nil {
		return nil, fmt.Errorf("create %s: %w", id, err)
	}
	return r, nil
}

// recordSelection returns the field whitelist of a single-record call:
// params.Select, else $select. Only the directives are parsed, so a
// filter error still surfaces from the lookup itself.
func (s *Service) recordSelection(params Params) ([]string, error) {
	d, err := query.ParseDirectives(params.Query)
	if err != nil {
		return nil, err
	}
	return s.selection(params, d), nil
}

// Update replaces the record with identity id by data. The record must
// exist (and match params.Query, if given). Nothing from the stored
// record is merged in. Its TTL is re-applied only with
// params.RefreshExpiration.
func (s *Service) Update(ctx context.Context, id string, data store.Record, params Params) (store.Record, error) {
	if id == "" {
		return nil, apperr.BadRequest("You can not replace multiple instances. Did you mean 'patch'?")
	}
	selected, err := s.recordSelection(params)
	if err != nil {
		return nil, err
	}
	filter := sanitize(params.Query)
	if _, err := s.lookup(ctx, id, filter); err != nil {
		return nil, err
	}

	r := data.Clone()
	if r == nil {
		r = store.Record{}
	}
	r[s.idField] = id
	if err := s.save(ctx, r, params); err != nil {
		return nil, err
	}
	return projection.Select(r, selected, s.idField), nil
}

// Patch merges data into the record with identity id: fields in data
// overwrite, other fields are kept. An empty id fails with
// MethodNotAllowed.
func (s *Service) Patch(ctx context.Context, id string, data store.Record, params Params) (store.Record, error) {
	if id == "" {
		return nil, apperr.MethodNotAllowed("Can not patch multiple entries")
	}
	selected, err := s.recordSelection(params)
	if err != nil {
		return nil, err
	}
	filter := sanitize(params.Query)
	current, err := s.lookup(ctx, id, filter)
	if err != nil {
		return nil, err
	}

	r := current.Clone()
	for k, v := range data {
		r[k] = v
	}
	r[s.idField] = id
	if err := s.save(ctx, r, params); err != nil {
		return nil, err
	}
	return projection.Select(r, selected, s.idField), nil
}

// Remove deletes the record with identity id and returns it as it was
// before deletion. An empty id fails with MethodNotAllowed.
func (s *Service) Remove(ctx context.Context, id string, params Params) (store.Record, error) {
	if id == "" {
		return nil, apperr.MethodNotAllowed("Can not remove multiple entries")
	}
	selected, err := s.recordSelection(params)
	if err != nil {
		return nil, err
	}
	filter := sanitize(params.Query)
	current, err := s.lookup(ctx, id, filter)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Remove(ctx, id); err != nil {
		return nil, fmt.Errorf("remove %s: %w", id, err)
	}
	return projection.Select(current, selected, s.idField), nil
}

// save writes a mutated record and refreshes its TTL when asked to.
func (s *Service) save(ctx context.Context, r store.Record, params Params) error {
	id := fmt.Sprint(r[s.idField])
	if err := s.backend.Save(ctx, id, r); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	if err := s.expiration.Refresh(ctx, r, params.RefreshExpiration); err != nil {
		return fmt.Errorf("refresh expiration %s: %w", id, err)
	}
	return nil
}

// sanitize drops the slicing directives from a single-record filter so a
// limit can never hide the match.
func sanitize(filter map[string]any) map[string]any {
	return query.Strip(filter, query.OpLimit, query.OpSkip)
}
